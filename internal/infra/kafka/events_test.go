package kafka

import (
	"testing"

	"github.com/axnihao/otp-service/internal/infra/config"
)

func TestProducer_TopicName(t *testing.T) {
	p := &Producer{cfg: config.KafkaSettings{TopicPrefix: "otp"}}

	if got := p.TopicName("code.issued"); got != "otp.code.issued" {
		t.Fatalf("expected otp.code.issued, got %s", got)
	}
	if got := p.TopicName("otp.code.issued"); got != "otp.code.issued" {
		t.Fatalf("expected prefix not to be duplicated, got %s", got)
	}
}

func TestProducer_TopicNameWithoutPrefix(t *testing.T) {
	p := &Producer{cfg: config.KafkaSettings{}}

	if got := p.TopicName("code.verified"); got != "code.verified" {
		t.Fatalf("expected bare topic name, got %s", got)
	}
}
