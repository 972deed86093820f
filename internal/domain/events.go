package domain

// Event payloads published on the event bus. Field names are part of the wire
// contract between producers and the notification consumer; changing them is
// a breaking change for messages already sitting in the queue.

// UserCreatedEvent announces a newly registered user.
type UserCreatedEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PostCreatedEvent announces a newly published post.
type PostCreatedEvent struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
	Title    string `json:"title"`
}
