// Package rotation decides which account may send next.
//
// Two mutually exclusive modes per target:
//
//   - Single-account auto-send: a per-account loop that waits out the
//     account's own cooldown (plus jitter) between sends.
//   - Rotation: a single loop cycling all enabled accounts round-robin,
//     so the aggregate rate approaches what the target's slowmode
//     permits per sender without any account ever sending early.
//
// Ticks are computed against a Clock so scheduling decisions are
// deterministic under test.
package rotation
