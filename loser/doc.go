// Package loser implements the tournament tree (loser tree) that drives
// replacement selection during run generation.
//
// A loser tree stores, at each interior node, the loser of the match
// between its two subtrees; the overall winner sits at the root. Replacing
// the winner therefore needs only one leaf-to-root replay, O(log k)
// comparisons, instead of rebuilding the tournament.
//
// Every leaf is keyed by (RunID, Value). A record that compares below the
// last emitted winner is tagged with the next run id, and because the run
// id dominates the ordering, such records can never win while the current
// run is still draining. The tree segregates runs by itself: when the
// winner's run id advances, the current run is complete.
//
// Slots whose input is exhausted are sealed with a sentinel key
// (maxVal, SentinelRunID). Sentinels never win against real records; once
// the winner itself is a sentinel the tree is empty.
package loser
