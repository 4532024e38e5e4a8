package edit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdok/vedit/backend"
)

func TestResolve(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		version string
		release int
		fault   error
		want    backend.StateID
		wantErr error
	}{
		{name: "bound", version: "HEAD", want: 10},
		{name: "default", version: backend.DefaultVersion, want: backend.BaseStateID},
		{name: "not found", version: "nope", want: backend.DefaultStateID, wantErr: ErrVersionNotFound},
		{name: "incompatible", version: "HEAD", release: backend.Release + 1, want: backend.DefaultStateID, wantErr: ErrVersionIncompatible},
		{
			name:    "other failure",
			version: "HEAD",
			fault:   backend.Errorf(backend.OpVersionGetInfo, backend.CodeBusy, "busy"),
			want:    backend.DefaultStateID,
			wantErr: ErrVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := headAt10()
			if tt.release != 0 {
				store.SetRelease(tt.release)
			}
			store.Fail(backend.OpVersionGetInfo, tt.fault)
			c := connect(t, store)

			got, err := Resolve(ctx, c, tt.version)
			require.Equal(t, tt.want, got)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			var e *Error
			require.ErrorAs(t, err, &e)
			require.Equal(t, backend.OpVersionGetInfo, e.Op)
			require.NotEmpty(t, e.Msg)
		})
	}
}
