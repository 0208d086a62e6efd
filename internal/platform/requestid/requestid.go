package requestid

import "github.com/google/uuid"

// New returns a random request identifier.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
