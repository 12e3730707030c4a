package manager

import (
	"io"

	"github.com/google/uuid"
)

func newUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
