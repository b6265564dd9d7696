package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

type guestRepository struct {
	v view
}

func (r guestRepository) Create(_ context.Context, guest domain.Guest) error {
	st, unlock := r.v.enter()
	defer unlock()

	guest.AliasEmail = domain.NormalizeEmail(guest.AliasEmail)
	if guest.AliasEmail != "" {
		for _, existing := range st.guests {
			if existing.AliasEmail == guest.AliasEmail {
				return domain.ErrDuplicateGuest
			}
		}
	}
	if guest.ID == "" {
		guest.ID = uuid.NewString()
	}
	if guest.CreatedAt.IsZero() {
		guest.CreatedAt = r.v.now()
	}
	st.guests[guest.ID] = guest
	return nil
}

func (r guestRepository) Get(_ context.Context, id string) (domain.Guest, error) {
	st, unlock := r.v.enter()
	defer unlock()

	guest, ok := st.guests[id]
	if !ok {
		return domain.Guest{}, domain.ErrGuestNotFound
	}
	return guest, nil
}

func (r guestRepository) FindByAliasEmail(_ context.Context, alias string) (domain.Guest, error) {
	alias = domain.NormalizeEmail(alias)

	st, unlock := r.v.enter()
	defer unlock()

	for _, guest := range st.guests {
		if alias != "" && guest.AliasEmail == alias {
			return guest, nil
		}
	}
	return domain.Guest{}, domain.ErrGuestNotFound
}

var _ domain.GuestRepository = guestRepository{}
