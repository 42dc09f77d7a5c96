package nbi

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/fabric-controller/model"
)

func TestParseSwitchParam(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		vars    map[string]string
		want    model.SwitchID
		wantErr bool
	}{
		{name: "route var", target: "/", vars: map[string]string{"dpid": "3"}, want: 3},
		{name: "query", target: "/?dpid=7", want: 7},
		{name: "hex dpid", target: "/?dpid=00:00:00:00:00:00:00:0a", want: 10},
		{name: "route var wins", target: "/?dpid=9", vars: map[string]string{"dpid": "2"}, want: 2},
		{name: "missing", target: "/", wantErr: true},
		{name: "blank", target: "/?dpid=%20", wantErr: true},
		{name: "garbage", target: "/?dpid=abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.vars != nil {
				r = mux.SetURLVars(r, tt.vars)
			}
			got, err := ParseSwitchParam(r, "dpid")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMACParam(t *testing.T) {
	r := httptest.NewRequest("GET", "/?mac=00:00:00:00:00:0A", nil)
	mac, err := ParseMACParam(r, "mac")
	require.NoError(t, err)
	assert.Equal(t, "00:00:00:00:00:0a", mac.String())

	for _, target := range []string{"/", "/?mac=nope", "/?mac=00:00:00:00:00:00:00:01"} {
		_, err := ParseMACParam(httptest.NewRequest("GET", target, nil), "mac")
		require.Error(t, err, target)
		assert.True(t, errors.Is(err, ErrInvalidArgument), target)
	}
}
