package database

import "time"

type Room struct {
	Id        int
	Name      string
	Kind      string
	CreatorId int
	SeqId     int
	// PairLo and PairHi hold the ordered user pair of a direct room.
	PairLo    int
	PairHi    int
	CreatedAt time.Time
	UpdatedAt time.Time
	Members   []User
}

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	IsOnline     bool
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	Id          int
	SeqId       int
	RoomId      int
	UserId      int
	Username    string
	Content     string
	Type        string
	IsDelivered bool
	DeliveredAt *time.Time
	IsRead      bool
	ReadAt      *time.Time
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name      string
	Kind      string
	CreatorId int
	MemberIds []int
}

type CreateMessageParams struct {
	RoomId    int
	UserId    int
	Content   string
	Type      string
	CreatedAt time.Time
}

// OrderedPair returns a and b sorted ascending.
func OrderedPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}
