package models

import (
	"strings"

	id "civreg/pkg/domain"
)

// Owner is the person the certificate is for. Parent and Address are shared
// by reference and de-duplicated by content.
type Owner struct {
	ID           id.OwnerID    `json:"owner_id"`
	FirstName    string        `json:"first_name" valid:"required~owner first name is required,length(1|100)"`
	MiddleName   string        `json:"middle_name" valid:"length(0|100)"`
	LastName     string        `json:"last_name" valid:"required~owner last name is required,length(1|100)"`
	Sex          string        `json:"sex" valid:"required~sex is required,in(male|female)"`
	DateOfBirth  string        `json:"date_of_birth" valid:"required~date of birth is required,isodate~date of birth must be YYYY-MM-DD"`
	Nationality  string        `json:"nationality" valid:"required~nationality is required,length(1|100)"`
	PlaceOfBirth string        `json:"place_of_birth" valid:"required~place of birth is required,length(1|200)"`
	ParentID     *id.ParentID  `json:"parent_id,omitempty" valid:"-"`
	AddressID    *id.AddressID `json:"address_id,omitempty" valid:"-"`

	Parent  *Parent  `json:"parent,omitempty" valid:"-"`
	Address *Address `json:"address,omitempty" valid:"-"`
}

func (o *Owner) Clone() *Owner {
	if o == nil {
		return nil
	}
	c := *o
	if o.ParentID != nil {
		v := *o.ParentID
		c.ParentID = &v
	}
	if o.AddressID != nil {
		v := *o.AddressID
		c.AddressID = &v
	}
	if o.Parent != nil {
		p := *o.Parent
		c.Parent = &p
	}
	if o.Address != nil {
		a := *o.Address
		c.Address = &a
	}
	return &c
}

// Parent is de-duplicated on its four name fields.
type Parent struct {
	ID              id.ParentID `json:"parent_id"`
	FatherFirstName string      `json:"father_first_name" valid:"length(0|100)"`
	FatherLastName  string      `json:"father_last_name" valid:"length(0|100)"`
	MotherFirstName string      `json:"mother_first_name" valid:"required~mother first name is required,length(1|100)"`
	MotherLastName  string      `json:"mother_last_name" valid:"required~mother last name is required,length(1|100)"`
}

// Trimmed returns p with surrounding whitespace removed from the natural key.
func (p Parent) Trimmed() Parent {
	p.FatherFirstName = strings.TrimSpace(p.FatherFirstName)
	p.FatherLastName = strings.TrimSpace(p.FatherLastName)
	p.MotherFirstName = strings.TrimSpace(p.MotherFirstName)
	p.MotherLastName = strings.TrimSpace(p.MotherLastName)
	return p
}

// IsBlank reports whether every natural-key field is empty.
func (p Parent) IsBlank() bool {
	t := p.Trimmed()
	return t.FatherFirstName == "" && t.FatherLastName == "" && t.MotherFirstName == "" && t.MotherLastName == ""
}

// Address is de-duplicated on all six fields.
type Address struct {
	ID       id.AddressID `json:"address_id"`
	HouseNo  string       `json:"house_no" valid:"length(0|50)"`
	Street   string       `json:"street" valid:"length(0|150)"`
	Barangay string       `json:"barangay" valid:"required~barangay is required,length(1|150)"`
	City     string       `json:"city" valid:"required~city is required,length(1|150)"`
	Province string       `json:"province" valid:"required~province is required,length(1|150)"`
	Country  string       `json:"country" valid:"required~country is required,length(1|100)"`
}

func (a Address) Trimmed() Address {
	a.HouseNo = strings.TrimSpace(a.HouseNo)
	a.Street = strings.TrimSpace(a.Street)
	a.Barangay = strings.TrimSpace(a.Barangay)
	a.City = strings.TrimSpace(a.City)
	a.Province = strings.TrimSpace(a.Province)
	a.Country = strings.TrimSpace(a.Country)
	return a
}

func (a Address) IsBlank() bool {
	t := a.Trimmed()
	return t.HouseNo == "" && t.Street == "" && t.Barangay == "" && t.City == "" && t.Province == "" && t.Country == ""
}
