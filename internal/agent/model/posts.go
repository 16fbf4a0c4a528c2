package model

// Post is a draft of a company communication post. Body is HTML.
type Post struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Empty reports whether neither part of the post was written.
func (p Post) Empty() bool {
	return p.Title == "" && p.Body == ""
}

// PostInput is one post creation request. Post carries a draft to update.
type PostInput struct {
	Tenant string `json:"tenant"`
	Query  string `json:"query"`
	Post   *Post  `json:"post,omitempty"`
	Debug  bool   `json:"debug"`
}

// PostState drives the post creation graph.
type PostState struct {
	OrchestrationState
	Tenant        string `json:"tenant"`
	Post          Post   `json:"post"`
	RefusalReason string `json:"refusal_reason,omitempty"`
	Refused       bool   `json:"refused"`
	Debug         bool   `json:"debug"`
	// Corrected is set once the missing-post correction turn was sent.
	Corrected bool `json:"-"`
}

// NewPostState builds the state for one post creation request.
func NewPostState(in PostInput) *PostState {
	s := &PostState{
		OrchestrationState: OrchestrationState{Ledger: NewLedger()},
		Tenant:             in.Tenant,
		Debug:              in.Debug,
	}
	if in.Post != nil {
		s.Post = *in.Post
	}
	s.Query = in.Query
	return s
}

// SetRefusalReason records why the answer falls back to a refusal.
func (s *PostState) SetRefusalReason(reason string) {
	s.RefusalReason = reason
}
