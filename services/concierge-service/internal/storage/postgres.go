package storage

import "github.com/md-rashed-zaman/apptconcierge/libs/db"

// PostgresStore bundles the repositories behind the same method set as MemoryStore.
type PostgresStore struct {
	*AppointmentRepository
	*ConversationRepository
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{
		AppointmentRepository:  NewAppointmentRepository(pool),
		ConversationRepository: NewConversationRepository(pool),
	}
}
