package transport

import "testing"

func TestHasProtocol(t *testing.T) {
	caps := Capabilities{Protocols: []Protocol{ProtocolPubSub, ProtocolRPC}}

	if !caps.HasProtocol(ProtocolPubSub) || !caps.HasProtocol(ProtocolRPC) {
		t.Error("expected declared protocols to match")
	}
	if caps.HasProtocol(ProtocolDuplex) {
		t.Error("undeclared protocol matched")
	}
	if (Capabilities{}).HasProtocol(ProtocolPubSub) {
		t.Error("zero capability set matched a protocol")
	}
}

func TestSupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{"ack and nack", Capabilities{SupportsAck: true, SupportsNack: true}, true},
		{"ack only", Capabilities{SupportsAck: true}, false},
		{"nack only", Capabilities{SupportsNack: true}, false},
		{"neither", Capabilities{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.caps.SupportsReliableDelivery(); got != tt.want {
				t.Errorf("SupportsReliableDelivery = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPredefinedCapabilities(t *testing.T) {
	tests := []struct {
		caps      Capabilities
		wantName  string
		wantProto Protocol
	}{
		{ChannelCapabilities, "channel", ProtocolPubSub},
		{KafkaCapabilities, "kafka", ProtocolPubSub},
		{RabbitMQCapabilities, "rabbitmq", ProtocolPubSub},
		{NATSCapabilities, "nats", ProtocolRPC},
		{NATSJetStreamCapabilities, "nats-jetstream", ProtocolPubSub},
		{AWSCapabilities, "aws", ProtocolPubSub},
		{HTTPCapabilities, "http", ProtocolHTTP},
		{DuplexCapabilities, "duplex", ProtocolDuplex},
	}

	seen := map[string]bool{}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			if tt.caps.Name != tt.wantName {
				t.Errorf("name = %q, want %q", tt.caps.Name, tt.wantName)
			}
			if !tt.caps.HasProtocol(tt.wantProto) {
				t.Errorf("missing protocol tag %q", tt.wantProto)
			}
			if tt.caps.Score <= 0 {
				t.Errorf("score = %d, want positive", tt.caps.Score)
			}
		})
		if seen[tt.wantName] {
			t.Errorf("duplicate predefined name %q", tt.wantName)
		}
		seen[tt.wantName] = true
	}
}

func TestDefaultPreferenceCoversAllTags(t *testing.T) {
	pref := DefaultPreference()
	want := []Protocol{ProtocolPubSub, ProtocolRPC, ProtocolHTTP, ProtocolDuplex, ProtocolToolCall}

	if len(pref) != len(want) {
		t.Fatalf("preference = %v, want %v", pref, want)
	}
	for i, p := range want {
		if pref[i] != p {
			t.Errorf("preference[%d] = %q, want %q", i, pref[i], p)
		}
	}

	// Callers may reorder their copy without affecting the default.
	pref[0] = ProtocolToolCall
	if DefaultPreference()[0] != ProtocolPubSub {
		t.Error("DefaultPreference shares backing storage with callers")
	}
}

func TestKafkaAndAWSDeclareSizeLimits(t *testing.T) {
	if KafkaCapabilities.MaxMessageSize <= 0 {
		t.Error("kafka max message size unset")
	}
	if AWSCapabilities.MaxMessageSize <= 0 {
		t.Error("aws max message size unset")
	}
}
