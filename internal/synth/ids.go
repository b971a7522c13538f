package synth

const (
	lowerAlnum   = "abcdefghijklmnopqrstuvwxyz0123456789"
	lowerLetters = "abcdefghijklmnopqrstuvwxyz"
)

// TraceID returns a new trace identifier: trace_ plus 16 lowercase
// alphanumerics.
func (g *Generator) TraceID() string {
	return "trace_" + g.randString(16, lowerAlnum)
}

// UserID returns a new user identifier: user_ plus 8 lowercase alphanumerics.
func (g *Generator) UserID() string {
	return "user_" + g.randString(8, lowerAlnum)
}

// SessionID returns a new session identifier: session_ plus 10 lowercase
// letters.
func (g *Generator) SessionID() string {
	return "session_" + g.randString(10, lowerLetters)
}

// GenerationID returns a new generation identifier in the ingestion API
// format: gen_ plus 12 lowercase letters.
func (g *Generator) GenerationID() string {
	return "gen_" + g.randString(12, lowerLetters)
}

// SpanID returns a new span identifier: span_ plus 12 lowercase letters.
func (g *Generator) SpanID() string {
	return "span_" + g.randString(12, lowerLetters)
}

func (g *Generator) randString(n int, alphabet string) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[g.rng.Intn(len(alphabet))]
	}
	return string(b)
}
