package synth

import "github.com/langobservatory/telegen/internal/pricing"

// models is derived from the pricing table keys so the model pool and the
// rate table cannot diverge.
var models = pricing.Models()

var providers = []string{"openai", "anthropic", "together", "replicate", "ollama"}

var userTypes = []string{"developer", "analyst", "researcher", "student", "business"}

var environments = []string{"development", "staging", "production"}

var maxTokensChoices = []int{256, 512, 1024, 2048}

// prompts and responses are closed pools. Input and output are drawn
// independently; no semantic pairing exists between them.
var prompts = []string{
	"Explain the concept of quantum computing in simple terms.",
	"Write a Python function to calculate the Fibonacci sequence.",
	"What are the benefits of using Kubernetes for container orchestration?",
	"Summarize the key points from this research paper about machine learning.",
	"Generate a creative story about a robot learning to paint.",
	"Help me debug this SQL query that's running slowly.",
	"Translate this text from English to Spanish.",
	"What are the best practices for API design?",
	"Create a marketing plan for a new SaaS product.",
	"Explain the differences between supervised and unsupervised learning.",
}

var responses = []string{
	"Here's a comprehensive explanation of the concept...",
	"I'll help you create that function. Here's the implementation...",
	"Kubernetes offers several key benefits for container orchestration...",
	"Based on the research paper, the main findings are...",
	"Once upon a time, in a small workshop, there lived a robot named Pixel...",
	"Looking at your SQL query, I can see a few optimization opportunities...",
	"Here's the Spanish translation of the provided text...",
	"When designing APIs, it's important to follow these best practices...",
	"Here's a comprehensive marketing plan for your SaaS product...",
	"The main differences between supervised and unsupervised learning are...",
}

var errorArchetypes = []struct {
	errType string
	message string
}{
	{"RateLimitError", "API rate limit exceeded"},
	{"InvalidRequestError", "Invalid parameter: temperature must be between 0 and 2"},
	{"AuthenticationError", "Invalid API key"},
	{"ServiceUnavailableError", "Service temporarily unavailable"},
	{"TimeoutError", "Request timed out after 30 seconds"},
}
