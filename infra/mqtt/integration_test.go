//go:build integration

package mqtt

import (
	"context"
	"fmt"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/model"
)

// TestMosquittoRoundTrip publishes a sample through a real broker and reads
// it back on the vehicle topic.
func TestMosquittoRoundTrip(t *testing.T) {
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	var cli *Client
	for i := 0; i < 5; i++ {
		cli, err = Connect(Config{Broker: broker, QoS: map[string]byte{QoSTelemetry: 1}}, logger.Nop{})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer cli.Disconnect()

	got := make(chan model.TelemetrySample, 1)
	conn, err := cli.Open(ctx, "V1", func(s model.TelemetrySample) { got <- s })
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer conn.Close()

	want := model.TelemetrySample{VehicleID: "V1", Latitude: 48.85, Longitude: 2.35, Load: 10, Seq: 7}
	if err := cli.Publish(ctx, want); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case s := <-got:
		if s.Seq != want.Seq || s.Latitude != want.Latitude {
			t.Fatalf("unexpected sample %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for sample")
	}
}
