package interfaces

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// AttachmentKind identifies the type of an uploaded attachment.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment references an uploaded file accompanying a query.
type Attachment struct {
	ID       string         `json:"id"`
	Kind     AttachmentKind `json:"kind"`
	URL      string         `json:"url"`
	MimeType string         `json:"mime_type,omitempty"`
}

// Citation points at a source referenced by an answer.
type Citation struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// ProductCard is a structured product result attached to a turn.
type ProductCard struct {
	Product  string  `json:"product"`
	Title    string  `json:"title"`
	Price    string  `json:"price,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
	URL      string  `json:"url,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
}

// Turn is one utterance and is immutable once persisted.
type Turn struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Role         Role          `json:"role"`
	Text         string        `json:"text"`
	Timestamp    int64         `json:"timestamp"`
	Citations    []Citation    `json:"citations,omitempty"`
	ProductCards []ProductCard `json:"product_cards,omitempty"`
	Attachments  []Attachment  `json:"attachments,omitempty"`
}

// Mode is the conversational mode of a session.
type Mode string

const (
	ModeGeneral  Mode = "general"
	ModeShopping Mode = "shopping"
)

// InterviewState tracks the shopping slot-filling conversation. Round runs
// 1..MaxRounds; a round past MaxRounds means the interview reached its
// recommendation.
type InterviewState struct {
	Round      int               `json:"round"`
	Slots      map[string]string `json:"slots"`
	LastEntity string            `json:"last_entity,omitempty"`
}

// Session holds the lightweight per-conversation state mutated after each
// completed turn. Turns themselves live in the session store.
type Session struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	Mode              Mode            `json:"mode"`
	LastIntent        Intent          `json:"last_intent"`
	LastProductEntity string          `json:"last_product_entity,omitempty"`
	Interview         *InterviewState `json:"interview,omitempty"`
	TurnCount         int             `json:"turn_count"`
}

// InShoppingInterview reports whether the next turn belongs to the interview.
func (s *Session) InShoppingInterview(maxRounds int) bool {
	return s.Mode == ModeShopping && s.Interview != nil && s.Interview.Round <= maxRounds
}

// ShoppingTerminal reports whether the session finished its interview and now
// routes straight to product lookup.
func (s *Session) ShoppingTerminal() bool {
	return s.Mode == ModeShopping && s.Interview == nil
}
