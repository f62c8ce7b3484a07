package session

// Payloads returned by the step capabilities. Each one is the "ok" branch of
// a step result; failures travel separately as a Failure.

// ProductSelection binds the product and the initial problem description.
type ProductSelection struct {
	Product     string
	Description string
}

// GatherOutcome is one gatherer round.
type GatherOutcome struct {
	AskedFollowUp      string
	UserReply          string
	FollowUpQuestion   string
	ClassifiedQuestion string
	Reasoning          string
	HasEnoughInfo      bool
}

// RetrievalOutcome is one executed search.
type RetrievalOutcome struct {
	Query  string
	Chunks []Chunk
}

// QualityOutcome is the quality checker verdict.
type QualityOutcome struct {
	InformationGap string
	Reasoning      string
	Sufficient     bool
}

// FallbackOutcome is the PDF fallback result.
type FallbackOutcome struct {
	Source  string
	Section string
	Text    string
	Pages   []int
	Usable  bool
}

// AnswerOutcome is a formulated answer.
type AnswerOutcome struct {
	Answer      string
	Confidence  string
	SourcesUsed string
}

// ClarificationInput is the optional follow-up text typed after an answer.
type ClarificationInput struct {
	Text string
}

// ClarificationOutcome is the clarification assessor verdict.
type ClarificationOutcome struct {
	InformationGap string
	Reasoning      string
	Actionable     bool
}

// FeedbackOutcome is the classified satisfaction reply.
type FeedbackOutcome struct {
	Reply     string
	Satisfied bool
	Uncertain bool
}
