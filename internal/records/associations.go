package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AssociationSubClient is the only association kind that can take part in
// the intake chat.
const AssociationSubClient = "Sub Client"

var ErrUnsupportedReference = errors.New("associations are only listed for individual clients")

// Association links a main client to another client record.
type Association struct {
	MainClientID string `json:"main_client_id,omitempty"`
	ClientID     string `json:"client_id"`
	Reference    string `json:"reference"`
	Type         string `json:"association_type"`
	ClientName   string `json:"client_name,omitempty"`
	Inactive     bool   `json:"inactive,omitempty"`
}

// Associate records or replaces a link from a.MainClientID to a.ClientID.
// An empty Type means AssociationSubClient.
func (s *Store) Associate(ctx context.Context, a Association) error {
	ref, err := NormalizeReference(a.Reference)
	if err != nil {
		return err
	}
	if a.MainClientID == "" || a.ClientID == "" {
		return errors.New("main_client_id and client_id are required")
	}
	if a.Type == "" {
		a.Type = AssociationSubClient
	}
	active := 1
	if a.Inactive {
		active = 0
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO client_associations (main_client_id, client_id, reference, association_type, active)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(main_client_id, client_id, reference)
		 DO UPDATE SET association_type = excluded.association_type, active = excluded.active`,
		a.MainClientID, a.ClientID, ref, a.Type, active)
	if err != nil {
		return fmt.Errorf("associate %s with %s: %w", a.ClientID, a.MainClientID, err)
	}
	return nil
}

// Associated lists the active individual sub-clients of a main individual,
// in the order they were first associated. Only individuals can be listed.
func (s *Store) Associated(ctx context.Context, mainClientID, reference string) ([]Association, error) {
	ref, err := NormalizeReference(reference)
	if err != nil {
		return nil, err
	}
	if ref != ReferenceIndividual {
		return nil, ErrUnsupportedReference
	}
	if _, err := s.Get(ctx, mainClientID, ref); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT a.client_id, a.association_type, COALESCE(fn.value, ''), COALESCE(ln.value, '')
		 FROM client_associations a
		 LEFT JOIN client_fields fn
		   ON fn.client_id = a.client_id AND fn.reference = a.reference AND fn.field = 'first_name'
		 LEFT JOIN client_fields ln
		   ON ln.client_id = a.client_id AND ln.reference = a.reference AND ln.field = 'last_name'
		 WHERE a.main_client_id = ? AND a.reference = ? AND a.association_type = ? AND a.active = 1
		 ORDER BY a.rowid`,
		mainClientID, ReferenceIndividual, AssociationSubClient)
	if err != nil {
		return nil, fmt.Errorf("list associations of %s: %w", mainClientID, err)
	}
	defer rows.Close()

	out := []Association{}
	for rows.Next() {
		a := Association{MainClientID: mainClientID, Reference: ReferenceIndividual}
		var first, last string
		if err := rows.Scan(&a.ClientID, &a.Type, &first, &last); err != nil {
			return nil, err
		}
		a.ClientName = strings.TrimSpace(first + " " + last)
		out = append(out, a)
	}
	return out, rows.Err()
}
