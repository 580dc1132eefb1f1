package service

import (
	"github.com/pkg/errors"

	"crmstore/model"
	"crmstore/storage/journal"
)

type CustomerService struct {
	Deps
	Customers Records[model.Customer]
}

// SearchFilter selects customers by exact field equality. Nil fields match
// every customer.
type SearchFilter struct {
	Name  *string
	Email *string
	Phone *string
}

func (f SearchFilter) matches(c model.Customer) bool {
	return (f.Name == nil || *f.Name == c.Name) &&
		(f.Email == nil || *f.Email == c.Email) &&
		(f.Phone == nil || *f.Phone == c.Phone)
}

func (s *CustomerService) AddCustomer(name, email, phone string) (c model.Customer, err error) {
	defer s.lock()()
	defer func() { s.observe("add_customer", err) }()

	if !isValidEmail(email) || !isValidPhone(phone) {
		return model.Customer{}, invalidInput("Invalid email or phone format")
	}

	id, err := s.IDs.Next()

	if err != nil {
		return model.Customer{}, errors.Wrap(err, "cannot increment customer id counter")
	}

	c = model.Customer{
		ID:        id,
		Name:      name,
		Email:     email,
		Phone:     phone,
		CreatedAt: s.now(),
	}

	if _, _, err := s.Customers.Insert(id, c); err != nil {
		return model.Customer{}, errors.Wrapf(err, "store customer %d", id)
	}

	s.record(journal.OpCreate, journal.KindCustomer, id, c.CreatedAt)

	return c, nil
}

func (s *CustomerService) GetCustomer(id uint64) (c model.Customer, err error) {
	defer s.lock()()
	defer func() { s.observe("get_customer", err) }()

	c, ok, err := s.Customers.Get(id)

	if err != nil {
		return model.Customer{}, errors.Wrapf(err, "load customer %d", id)
	}

	if !ok {
		return model.Customer{}, notFound("a customer with id=%d not found", id)
	}

	return c, nil
}

// UpdateCustomer replaces name, email and phone of an existing customer and
// persists the result. Input is validated before the customer is looked up.
func (s *CustomerService) UpdateCustomer(id uint64, name, email, phone string) (c model.Customer, err error) {
	defer s.lock()()
	defer func() { s.observe("update_customer", err) }()

	if !isValidEmail(email) || !isValidPhone(phone) {
		return model.Customer{}, invalidInput("Invalid email or phone format")
	}

	c, ok, err := s.Customers.Get(id)

	if err != nil {
		return model.Customer{}, errors.Wrapf(err, "load customer %d", id)
	}

	if !ok {
		return model.Customer{}, notFound("couldn't update a customer with id=%d. Customer not found", id)
	}

	c.Name = name
	c.Email = email
	c.Phone = phone

	if _, _, err := s.Customers.Insert(id, c); err != nil {
		return model.Customer{}, errors.Wrapf(err, "store customer %d", id)
	}

	s.record(journal.OpUpdate, journal.KindCustomer, id, s.now())

	return c, nil
}

func (s *CustomerService) DeleteCustomer(id uint64) (c model.Customer, err error) {
	defer s.lock()()
	defer func() { s.observe("delete_customer", err) }()

	c, ok, err := s.Customers.Remove(id)

	if err != nil {
		return model.Customer{}, errors.Wrapf(err, "remove customer %d", id)
	}

	if !ok {
		return model.Customer{}, notFound("couldn't delete a customer with id=%d. Customer not found", id)
	}

	s.record(journal.OpDelete, journal.KindCustomer, id, s.now())

	return c, nil
}

// SearchCustomers scans all customers in id order and returns page pageNumber
// (1-based) of pageSize matches.
func (s *CustomerService) SearchCustomers(filter SearchFilter, pageSize, pageNumber uint64) (result model.SearchResult[model.Customer], err error) {
	defer s.lock()()
	defer func() { s.observe("search_customers", err) }()

	if pageNumber < 1 {
		return model.SearchResult[model.Customer]{}, invalidInput("page_number must be at least 1")
	}

	var matches []model.Customer

	it := s.Customers.Iter()

	for it.Next() {
		if c := it.Value(); filter.matches(c) {
			matches = append(matches, c)
		}
	}

	if err := it.Err(); err != nil {
		return model.SearchResult[model.Customer]{}, errors.Wrap(err, "scan customers")
	}

	start, end := pageBounds(uint64(len(matches)), pageSize, pageNumber)

	return model.SearchResult[model.Customer]{
		TotalItems: uint64(len(matches)),
		Items:      append([]model.Customer{}, matches[start:end]...),
	}, nil
}

// pageBounds returns [start, end) of page pageNumber within total items,
// clamped so that pages past the end are empty.
func pageBounds(total, pageSize, pageNumber uint64) (uint64, uint64) {
	if pageSize == 0 {
		return total, total
	}

	pages := total / pageSize

	if total%pageSize != 0 {
		pages++
	}

	if pageNumber-1 >= pages {
		return total, total
	}

	start := (pageNumber - 1) * pageSize

	return start, min(start+pageSize, total)
}
