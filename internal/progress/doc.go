// Package progress provides progress reporting for feed harvests.
//
// The Reporter is a harvester.Observer that prints a status line for the
// current round and a summary when the run converges.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Concurrency: 100,
//	    Output:      os.Stderr,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	h := harvester.New(f, s, harvester.Options{
//	    Observers: []harvester.Observer{reporter},
//	})
//
// # Output Format
//
//	[gtfsfetch] Round 1: 1432 feeds | Concurrency: 100
//	[gtfsfetch] Progress: 61.2% | 877 done | 23 failed | 100 in-flight | 1.20 GB | Speed: 14.20 MB/s
//	[gtfsfetch] Finished: plateau after 2 rounds | 1409 stored | 23 missing | Total time: 4m 12s
package progress
