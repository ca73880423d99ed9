package store

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

func GobEncode[T any](value T) ([]byte, error) {
	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(value); err != nil {
		return nil, errors.WithMessagef(err, "failed to encode %T to gob bytes", value)
	}
	return buffer.Bytes(), nil
}

func GobDecode[T any](byteSlice []byte) (T, error) {
	var value T
	if err := gob.NewDecoder(bytes.NewReader(byteSlice)).Decode(&value); err != nil {
		return value, errors.WithMessagef(err, "failed to decode gob bytes into %T", value)
	}
	return value, nil
}
