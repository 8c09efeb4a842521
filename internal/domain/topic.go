package domain

import (
	"fmt"
	"strings"
)

// TopicFamily groups topics that share an id space and a broadcast channel.
type TopicFamily string

const (
	FamilyTicket TopicFamily = "ticket"
	FamilyJob    TopicFamily = "job"
)

// Families lists every topic family in channel order.
var Families = []TopicFamily{FamilyTicket, FamilyJob}

func (f TopicFamily) Valid() bool {
	return f == FamilyTicket || f == FamilyJob
}

// IDField is the data key that carries the entity id for this family.
func (f TopicFamily) IDField() string {
	return string(f) + "_id"
}

// Topic is a routable subscription key such as "ticket:17" or "job:42".
type Topic struct {
	Family TopicFamily
	ID     string
}

func TicketTopic(ticketID string) Topic {
	return Topic{Family: FamilyTicket, ID: ticketID}
}

func JobTopic(jobID string) Topic {
	return Topic{Family: FamilyJob, ID: jobID}
}

func (t Topic) String() string {
	return string(t.Family) + ":" + t.ID
}

func (t Topic) IsZero() bool {
	return t.Family == "" && t.ID == ""
}

// ParseTopic parses the "family:id" form produced by Topic.String.
func ParseTopic(s string) (Topic, error) {
	family, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}

	t := Topic{Family: TopicFamily(family), ID: id}
	if !t.Family.Valid() {
		return Topic{}, fmt.Errorf("%w: unknown family %q", ErrInvalidTopic, family)
	}
	return t, nil
}
