package events

import "testing"

func TestNewRedisPublisherRequiresAddr(t *testing.T) {
	if _, err := NewRedisPublisher(RedisPublisherConfig{}); err == nil {
		t.Fatal("expected error for missing addr")
	}
	if _, err := NewRedisPublisher(RedisPublisherConfig{Addrs: []string{"  ", ""}}); err == nil {
		t.Fatal("expected error for blank addrs")
	}
}

func TestNewRedisPublisherDefaults(t *testing.T) {
	pub, err := NewRedisPublisher(RedisPublisherConfig{Addr: "localhost:6379"})
	if err != nil {
		t.Fatalf("NewRedisPublisher: %v", err)
	}
	defer pub.Close()
	if pub.stream != "pressconnect:sessions" {
		t.Fatalf("unexpected default stream %q", pub.stream)
	}
	if pub.maxLen != 4096 {
		t.Fatalf("unexpected default maxlen %d", pub.maxLen)
	}
}
