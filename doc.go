// Command asanopt instruments programs with AddressSanitizer style address
// checks and removes the checks that are provably redundant.
//
// Inputs are textual LLVM IR modules or Go main packages. Checks dominated
// by an equivalent check, checks of neighbouring addresses and checks in
// loops with an invariant or monotonic address are eliminated, merged or
// moved out of the loop. The instrumented module can be printed, rendered
// as a control flow graph, or executed against a shadow memory runtime.
package main
