// Package scheduler runs the periodic maintenance pass: index documents
// still PENDING, then backfill missing summary embeddings.
//
//	s := scheduler.New(orchestrator, idx, 10*time.Minute)
//	if err := s.Start(); err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// Jobs run in gocron singleton mode, so a slow pass delays the next one
// rather than overlapping it.
package scheduler
