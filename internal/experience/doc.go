// Package experience provides the capacity-bounded store of high-quality past
// solutions that agents can reuse.
//
// A Buffer admits a trajectory only when its quality score clears MinQuality
// and the buffer still has room. Admission is a one-time decision: a full
// buffer rejects new entries rather than evicting old ones. Admitted
// trajectories are embedded once and kept in a dense matrix so retrieval is a
// single vectorized similarity pass.
//
// # Concurrency
//
// Every Buffer method is safe for concurrent use. One RWMutex guards the
// matrix, the metadata, and the counters together, so readers never observe a
// partially appended row. Embedding runs outside the lock.
//
// # Usage
//
//	provider, _ := embeddings.NewProvider(embeddings.ProviderConfig{}, logger)
//	buf, err := experience.NewBuffer(experience.Config{MaxSize: 1000, MinQuality: 90}, provider, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	traj, _ := experience.NewTrajectory("writer-1", taskID, "drafted outline, wrote copy", 0, experience.OutcomeSuccess, 95)
//	ok, err := buf.Store(ctx, traj, traj.QualityScore, "write a product launch post")
//
//	matches, err := buf.GetSimilarExperiences(ctx, "write a launch announcement", 3)
package experience
