package booking

import (
	"fmt"
	"io"
	"sync"
)

// codeAlphabet содержит 32 символа без 0/O и 1/I, поэтому байт делится на него без смещения.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8
)

// codeGenerator выдаёт коды подтверждения из переданного источника случайности.
type codeGenerator struct {
	mu     sync.Mutex
	random io.Reader
}

func newCodeGenerator(random io.Reader) *codeGenerator {
	return &codeGenerator{random: random}
}

func (g *codeGenerator) next() (string, error) {
	buf := make([]byte, codeLength)

	g.mu.Lock()
	_, err := io.ReadFull(g.random, buf)
	g.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
