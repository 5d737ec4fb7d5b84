// Package arthook intercepts methods of a managed runtime by rewriting their
// compiled code.
//
// Every compiled entry that has at least one hook gets a hook page: a small
// block of generated code holding one compare-and-jump per hooked method and
// a fall-through back into the original. Several methods can share one
// compiled body, so the page dispatches on the method record passed in the
// first argument register, and methods that share the body without a hook
// still run the original code.
//
// When the compiled code is large enough, its first instructions are replaced
// with a jump to the page. Otherwise the hooked method's entry field is
// pointed at the page and the code is left alone.
//
// Each hook keeps a private copy of the original method record. Calls through
// the returned Original run the unmodified behavior.
//
// Limitations:
//   - Relocation of patched prologues is only checked on ARM64, ARM32 and
//     x86; prologues that use PC-relative addressing are hooked by
//     redirecting entry fields instead
//   - Patching and redirecting are not atomic with respect to other threads
//   - Uninstalling does not wait for calls that are already in a hook page
package arthook
