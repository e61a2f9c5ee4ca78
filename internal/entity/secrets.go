package entity

import "github.com/google/uuid"

// uuidSecrets generates invitation secrets as UUIDv7 strings.
type uuidSecrets struct{}

// Generate panics only if the system's random source fails.
func (uuidSecrets) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic("uuid.NewV7 failed: " + err.Error())
	}
	return id.String()
}
