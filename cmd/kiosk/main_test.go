package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeTapper struct {
	seen []string
}

func (f *fakeTapper) Tap(_ context.Context, id string) (map[string]interface{}, error) {
	f.seen = append(f.seen, id)
	if id == "unknown" {
		return nil, status.Error(codes.NotFound, "student_not_found")
	}
	return map[string]interface{}{"message": "Attendance marked: PRESENT"}, nil
}

func TestRunTapsEachLine(t *testing.T) {
	k := &fakeTapper{}
	var out bytes.Buffer

	err := run(context.Background(), k, strings.NewReader("CARD-1\n\n  unknown \nCARD-2\n"), &out, time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{"CARD-1", "unknown", "CARD-2"}, k.seen)
	assert.Equal(t, "CARD-1: Attendance marked: PRESENT\nunknown: rejected (student_not_found)\nCARD-2: Attendance marked: PRESENT\n", out.String())
}
