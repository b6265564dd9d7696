package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

type mappingRecord struct {
	domain.ChannelRoomMapping
	seq int64
}

type mappingRepository struct {
	v view
}

func (r mappingRepository) Create(_ context.Context, mapping domain.ChannelRoomMapping) error {
	if mapping.Channel == "" {
		return domain.ErrChannelRequired
	}
	if mapping.Category == "" {
		return domain.ErrCategoryRequired
	}

	st, unlock := r.v.enter()
	defer unlock()

	for _, existing := range st.mappings {
		if existing.Channel == mapping.Channel &&
			existing.ExternalRoomID == mapping.ExternalRoomID &&
			existing.ExternalRatePlanID == mapping.ExternalRatePlanID {
			return domain.ErrDuplicateMapping
		}
	}
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = r.v.now()
	}
	st.mappings[mapping.ID] = mappingRecord{ChannelRoomMapping: mapping, seq: st.next()}
	return nil
}

func (r mappingRepository) FindByExternalRoom(_ context.Context, channel, externalRoomID string) (domain.ChannelRoomMapping, error) {
	st, unlock := r.v.enter()
	defer unlock()

	for _, rec := range activeMappings(st, channel) {
		if rec.ExternalRoomID == externalRoomID {
			return rec.ChannelRoomMapping, nil
		}
	}
	return domain.ChannelRoomMapping{}, domain.ErrMappingNotFound
}

// FindByCategory возвращает самый ранний активный маппинг категории.
func (r mappingRepository) FindByCategory(_ context.Context, channel, category string) (domain.ChannelRoomMapping, error) {
	st, unlock := r.v.enter()
	defer unlock()

	for _, rec := range activeMappings(st, channel) {
		if rec.Category == category {
			return rec.ChannelRoomMapping, nil
		}
	}
	return domain.ChannelRoomMapping{}, domain.ErrMappingNotFound
}

func (r mappingRepository) List(_ context.Context, channel string) ([]domain.ChannelRoomMapping, error) {
	st, unlock := r.v.enter()
	defer unlock()

	records := make([]mappingRecord, 0)
	for _, rec := range st.mappings {
		if rec.Channel == channel {
			records = append(records, rec)
		}
	}
	sortMappings(records)

	result := make([]domain.ChannelRoomMapping, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.ChannelRoomMapping)
	}
	return result, nil
}

func activeMappings(st *state, channel string) []mappingRecord {
	records := make([]mappingRecord, 0)
	for _, rec := range st.mappings {
		if rec.Channel == channel && rec.Active {
			records = append(records, rec)
		}
	}
	sortMappings(records)
	return records
}

func sortMappings(records []mappingRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
}

var _ domain.ChannelMappingRepository = mappingRepository{}
