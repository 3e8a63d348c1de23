package rpcsurface

import (
	"context"
	"errors"
	"testing"

	"github.com/catalystmesh/catalyst/internal/dispatcher"
	"github.com/catalystmesh/catalyst/internal/rib"
	"github.com/stretchr/testify/require"
)

func alwaysDeny(ctx context.Context, token string) (string, error) {
	return "", errors.New("rpcsurface: invalid token")
}

func alwaysAllow(ctx context.Context, token string) (string, error) {
	return "caller", nil
}

func TestGetNetworkClientDeniedWithoutToken(t *testing.T) {
	reducer := rib.New(rib.NodeIdentity{Name: "A"})
	d := dispatcher.New(dispatcher.Config{Reducer: reducer})
	s := New(alwaysDeny, d, reducer)

	result := s.GetNetworkClient(context.Background(), "bad-token")
	require.False(t, result.Success)
	require.Error(t, result.Err)
}

func TestGetNetworkClientGrantedWithValidToken(t *testing.T) {
	reducer := rib.New(rib.NodeIdentity{Name: "A"})
	d := dispatcher.New(dispatcher.Config{Reducer: reducer})
	s := New(alwaysAllow, d, reducer)

	result := s.GetNetworkClient(context.Background(), "good-token")
	require.True(t, result.Success)
	require.NotNil(t, result.Value)
}

func TestDataChannelClientListRoutesReflectsReducerState(t *testing.T) {
	reducer := rib.New(rib.NodeIdentity{Name: "A"})
	plan, err := reducer.Plan(rib.LocalRouteCreate{Route: rib.LocalRoute{Name: "svc", Protocol: rib.ProtocolHTTP, Endpoint: "http://x:1"}})
	require.NoError(t, err)
	_, err = reducer.Commit(plan)
	require.NoError(t, err)

	s := New(nil, dispatcher.New(dispatcher.Config{Reducer: reducer}), reducer)
	client := s.GetDataChannelClient(context.Background(), "").Value
	routes := client.ListRoutes(context.Background())
	require.Len(t, routes, 1)
	require.Equal(t, "svc", routes[0].Name)
}
