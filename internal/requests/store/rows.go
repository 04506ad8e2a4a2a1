package store

import (
	"time"

	"civreg/internal/gateway"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
)

var (
	ownerExpand = gateway.Expand{
		Name: "owner", Table: gateway.TableOwner, LocalKey: "owner_id", ForeignKey: "owner_id",
		Expand: []gateway.Expand{
			{Name: "parent", Table: gateway.TableParent, LocalKey: "parent_id", ForeignKey: "parent_id"},
			{Name: "address", Table: gateway.TableAddress, LocalKey: "address_id", ForeignKey: "address_id"},
		},
	}
	statusExpand = gateway.Expand{
		Name: "status", Table: gateway.TableStatus, LocalKey: "req_id", ForeignKey: "req_id", Many: true,
		Order: []gateway.Order{gateway.Desc("updated_at"), gateway.Desc("status_id")},
	}
	// requestExpand loads Request+Owner+Parent+Address+Status in one query.
	requestExpand = []gateway.Expand{ownerExpand, statusExpand}

	newestFirst = []gateway.Order{gateway.Desc("created_at"), gateway.Desc("req_id")}
)

// RequestFromRow maps a requester row, with any expanded relations.
func RequestFromRow(row gateway.Row) *models.Request {
	r := &models.Request{
		FirstName:     row.String("first_name"),
		LastName:      row.String("last_name"),
		ContactNumber: row.String("contact_number"),
		Purpose:       row.String("purpose"),
		Specify:       row.String("specify"),
		IsDraft:       row.Bool("is_draft"),
	}
	if v, ok := row.Int64("req_id"); ok {
		r.ID = id.RequestID(v)
	}
	if u, err := id.ParseUserID(row.String("user_id")); err == nil {
		r.UserID = u
	}
	if v, ok := row.Int64("owner_id"); ok {
		oid := id.OwnerID(v)
		r.OwnerID = &oid
	}
	if !row.IsNull("cert_number") {
		cn := row.String("cert_number")
		r.CertNumber = &cn
	}
	r.CreatedAt = timeOf(row, "created_at")
	if o, ok := row.One("owner"); ok {
		r.Owner = OwnerFromRow(o)
	}
	if statuses, ok := row["status"].([]gateway.Row); ok {
		r.Statuses = make([]models.Status, 0, len(statuses))
		for _, s := range statuses {
			r.Statuses = append(r.Statuses, StatusFromRow(s))
		}
	}
	return r
}

func StatusFromRow(row gateway.Row) models.Status {
	s := models.Status{Value: id.StatusValue(row.String("status_current"))}
	s.ID, _ = row.Int64("status_id")
	if v, ok := row.Int64("req_id"); ok {
		s.RequestID = id.RequestID(v)
	}
	s.UpdatedAt = timeOf(row, "updated_at")
	return s
}

func CertificateFromRow(row gateway.Row) models.Certificate {
	c := models.Certificate{CertNumber: row.String("cert_number")}
	c.ID, _ = row.Int64("bc_id")
	if v, ok := row.Int64("req_id"); ok {
		c.RequestID = id.RequestID(v)
	}
	if t, ok := row.Time("issue_date"); ok {
		c.IssueDate = &t
	}
	return c
}

func OwnerFromRow(row gateway.Row) *models.Owner {
	o := &models.Owner{
		FirstName:    row.String("first_name"),
		MiddleName:   row.String("middle_name"),
		LastName:     row.String("last_name"),
		Sex:          row.String("sex"),
		DateOfBirth:  row.String("date_of_birth"),
		Nationality:  row.String("nationality"),
		PlaceOfBirth: row.String("place_of_birth"),
	}
	if v, ok := row.Int64("owner_id"); ok {
		o.ID = id.OwnerID(v)
	}
	if v, ok := row.Int64("parent_id"); ok {
		pid := id.ParentID(v)
		o.ParentID = &pid
	}
	if v, ok := row.Int64("address_id"); ok {
		aid := id.AddressID(v)
		o.AddressID = &aid
	}
	if p, ok := row.One("parent"); ok {
		parent := ParentFromRow(p)
		o.Parent = &parent
	}
	if a, ok := row.One("address"); ok {
		address := AddressFromRow(a)
		o.Address = &address
	}
	return o
}

func ownerRow(o models.Owner) gateway.Row {
	return gateway.Row{
		"first_name":     o.FirstName,
		"middle_name":    o.MiddleName,
		"last_name":      o.LastName,
		"sex":            o.Sex,
		"date_of_birth":  o.DateOfBirth,
		"nationality":    o.Nationality,
		"place_of_birth": o.PlaceOfBirth,
		"parent_id":      o.ParentID,
		"address_id":     o.AddressID,
	}
}

func ParentFromRow(row gateway.Row) models.Parent {
	p := models.Parent{
		FatherFirstName: row.String("father_first_name"),
		FatherLastName:  row.String("father_last_name"),
		MotherFirstName: row.String("mother_first_name"),
		MotherLastName:  row.String("mother_last_name"),
	}
	if v, ok := row.Int64("parent_id"); ok {
		p.ID = id.ParentID(v)
	}
	return p
}

func parentRow(p models.Parent) gateway.Row {
	return gateway.Row{
		"father_first_name": p.FatherFirstName,
		"father_last_name":  p.FatherLastName,
		"mother_first_name": p.MotherFirstName,
		"mother_last_name":  p.MotherLastName,
	}
}

func AddressFromRow(row gateway.Row) models.Address {
	a := models.Address{
		HouseNo:  row.String("house_no"),
		Street:   row.String("street"),
		Barangay: row.String("barangay"),
		City:     row.String("city"),
		Province: row.String("province"),
		Country:  row.String("country"),
	}
	if v, ok := row.Int64("address_id"); ok {
		a.ID = id.AddressID(v)
	}
	return a
}

func addressRow(a models.Address) gateway.Row {
	return gateway.Row{
		"house_no": a.HouseNo,
		"street":   a.Street,
		"barangay": a.Barangay,
		"city":     a.City,
		"province": a.Province,
		"country":  a.Country,
	}
}

func UserFromRow(row gateway.Row) (*models.User, error) {
	uid, err := id.ParseUserID(row.String("user_id"))
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:            uid,
		FirstName:     row.String("first_name"),
		LastName:      row.String("last_name"),
		ContactNumber: row.String("contact_number"),
		Email:         row.String("email"),
		Role:          id.Role(row.String("role")),
		CreatedAt:     timeOf(row, "created_at"),
	}, nil
}

// exactMatch turns a natural-key row into equality filters.
func exactMatch(row gateway.Row) []gateway.Filter {
	filters := make([]gateway.Filter, 0, len(row))
	for col, v := range row {
		filters = append(filters, gateway.Eq(col, v))
	}
	return filters
}

func patchRow(p models.RequestPatch) gateway.Row {
	row := gateway.Row{}
	set := func(col string, v *string) {
		if v != nil {
			row[col] = *v
		}
	}
	set("first_name", p.FirstName)
	set("last_name", p.LastName)
	set("contact_number", p.ContactNumber)
	set("purpose", p.Purpose)
	set("specify", p.Specify)
	set("cert_number", p.CertNumber)
	if p.OwnerID != nil {
		row["owner_id"] = int64(*p.OwnerID)
	}
	if p.IsDraft != nil {
		row["is_draft"] = *p.IsDraft
	}
	return row
}

func timeOf(row gateway.Row, col string) time.Time {
	t, _ := row.Time(col)
	return t
}
