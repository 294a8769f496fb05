package relay

// Category is the routing category assigned to a request.
// Closed enum; the router's policy table covers every value.
type Category string

const (
	CategoryRoutine       Category = "routine"
	CategorySummarization Category = "summarization"
	CategoryReasoning     Category = "reasoning"
	CategorySafety        Category = "safety"
	CategoryCoding        Category = "coding"
	CategoryPersona       Category = "persona"
)

// Classifier assigns a Category to message text. Implementations are
// pure with respect to I/O: no network, no filesystem.
type Classifier interface {
	Classify(text string) Category
}
