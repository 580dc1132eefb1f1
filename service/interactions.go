package service

import (
	"github.com/pkg/errors"

	"crmstore/model"
	"crmstore/storage/journal"
)

type InteractionService struct {
	Deps
	Interactions Records[model.Interaction]
}

func (s *InteractionService) AddInteraction(payload model.InteractionPayload) (i model.Interaction, err error) {
	defer s.lock()()
	defer func() { s.observe("add_interaction", err) }()

	if !isValidInteractionPayload(payload) {
		return model.Interaction{}, invalidInput("Invalid interaction payload")
	}

	id, err := s.IDs.Next()

	if err != nil {
		return model.Interaction{}, errors.Wrap(err, "cannot increment interaction id counter")
	}

	i = model.Interaction{
		ID:              id,
		CustomerID:      payload.CustomerID,
		InteractionType: payload.InteractionType,
		Content:         payload.Content,
		CreatedAt:       s.now(),
	}

	if _, _, err := s.Interactions.Insert(id, i); err != nil {
		return model.Interaction{}, errors.Wrapf(err, "store interaction %d", id)
	}

	s.record(journal.OpCreate, journal.KindInteraction, id, i.CreatedAt)

	return i, nil
}

func (s *InteractionService) GetInteraction(id uint64) (i model.Interaction, err error) {
	defer s.lock()()
	defer func() { s.observe("get_interaction", err) }()

	i, ok, err := s.Interactions.Get(id)

	if err != nil {
		return model.Interaction{}, errors.Wrapf(err, "load interaction %d", id)
	}

	if !ok {
		return model.Interaction{}, notFound("an interaction with id=%d not found", id)
	}

	return i, nil
}

// UpdateInteraction replaces type and content and stamps UpdatedAt. The
// customer id of an interaction never changes.
func (s *InteractionService) UpdateInteraction(id uint64, payload model.InteractionPayload) (i model.Interaction, err error) {
	defer s.lock()()
	defer func() { s.observe("update_interaction", err) }()

	if !isValidInteractionPayload(payload) {
		return model.Interaction{}, invalidInput("Invalid interaction payload")
	}

	i, ok, err := s.Interactions.Get(id)

	if err != nil {
		return model.Interaction{}, errors.Wrapf(err, "load interaction %d", id)
	}

	if !ok {
		return model.Interaction{}, notFound("couldn't update an interaction with id=%d. Interaction not found", id)
	}

	now := s.now()

	if now.Before(i.CreatedAt) {
		now = i.CreatedAt
	}

	i.InteractionType = payload.InteractionType
	i.Content = payload.Content
	i.UpdatedAt = &now

	if _, _, err := s.Interactions.Insert(id, i); err != nil {
		return model.Interaction{}, errors.Wrapf(err, "store interaction %d", id)
	}

	s.record(journal.OpUpdate, journal.KindInteraction, id, now)

	return i, nil
}

func (s *InteractionService) DeleteInteraction(id uint64) (i model.Interaction, err error) {
	defer s.lock()()
	defer func() { s.observe("delete_interaction", err) }()

	i, ok, err := s.Interactions.Remove(id)

	if err != nil {
		return model.Interaction{}, errors.Wrapf(err, "remove interaction %d", id)
	}

	if !ok {
		return model.Interaction{}, notFound("couldn't delete an interaction with id=%d. Interaction not found", id)
	}

	s.record(journal.OpDelete, journal.KindInteraction, id, s.now())

	return i, nil
}
