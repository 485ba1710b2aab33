package curiosity

// DomainSpec describes a practice domain. Each task description is a
// template rendered with one topic, so templates carry a single %s verb.
type DomainSpec struct {
	Name            string   `koanf:"name" yaml:"name" validate:"required"`
	Templates       []string `koanf:"templates" yaml:"templates" validate:"required,min=1,dive,required"`
	Topics          []string `koanf:"topics" yaml:"topics" validate:"required,min=1,dive,required"`
	InitialCoverage float64  `koanf:"initial_coverage" yaml:"initial_coverage" validate:"gte=0,lte=100"`
}

// DefaultDomains returns the built-in practice catalogue.
func DefaultDomains() []DomainSpec {
	return []DomainSpec{
		{
			Name: "content_writing",
			Templates: []string{
				"Write a 600 word blog post explaining %s to beginners",
				"Draft a product announcement email about %s",
				"Rewrite a dense paragraph on %s in plain language",
			},
			Topics: []string{"remote onboarding", "usage based pricing", "zero downtime deploys", "customer churn", "data privacy"},
		},
		{
			Name: "seo",
			Templates: []string{
				"Produce a keyword cluster and outline for a landing page on %s",
				"Write a meta title and description for an article about %s",
				"Audit internal linking for a site section covering %s",
			},
			Topics: []string{"project management software", "vegan meal prep", "home solar panels", "kubernetes cost control", "language learning apps"},
		},
		{
			Name: "architecture",
			Templates: []string{
				"Design a service boundary diagram for %s",
				"Compare two storage layouts for %s and recommend one",
				"Write an architecture decision record about %s",
			},
			Topics: []string{"a multi tenant billing system", "an event sourced order pipeline", "a rate limited public API", "a read heavy product catalogue", "offline first mobile sync"},
		},
		{
			Name: "data_analysis",
			Templates: []string{
				"Summarize the key trends in a dataset of %s",
				"Propose three metrics to monitor %s and how to compute them",
				"Explain an anomaly detection approach for %s",
			},
			Topics: []string{"weekly active users", "checkout funnel drop off", "warehouse inventory levels", "support ticket volume", "cloud spend by team"},
		},
		{
			Name: "testing",
			Templates: []string{
				"Write a table driven test plan for %s",
				"List the edge cases worth covering in %s",
				"Design a load test for %s",
			},
			Topics: []string{"a currency conversion function", "a retrying HTTP client", "a bounded worker pool", "a password reset flow", "a CSV import job"},
		},
		{
			Name: "devops",
			Templates: []string{
				"Write a CI pipeline definition that builds and tests %s",
				"Draft a runbook for recovering %s after an outage",
				"Define alerting thresholds for %s",
			},
			Topics: []string{"a Go microservice", "a PostgreSQL primary", "a message queue consumer", "a static documentation site", "a nightly batch exporter"},
		},
	}
}
