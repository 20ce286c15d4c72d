package game

import "math/rand/v2"

// CodeAlphabet omits 0/O and 1/I so codes can be read aloud and typed back.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of symbols in a room code.
const CodeLength = 4

// CodeSpace is the number of distinct room codes.
const CodeSpace = 32 * 32 * 32 * 32

// CodeGenerator draws room codes uniformly from CodeAlphabet.
type CodeGenerator struct {
	intn func(n int) int
}

// NewCodeGenerator returns a generator backed by math/rand/v2.
func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{intn: rand.IntN}
}

// Next returns a random code. Uniqueness is the registry's job.
func (g *CodeGenerator) Next() string {
	buf := make([]byte, CodeLength)
	for i := range buf {
		buf[i] = CodeAlphabet[g.intn(len(CodeAlphabet))]
	}
	return string(buf)
}
