package marketplace

import "testing"

func TestSignAndVerify(t *testing.T) {
	secret := "whsec_0000000000000000000000000000000000000000000000000000000000000000"
	payload := []byte(`{"event":"claim.accepted","data":{"task_id":1}}`)

	sig := SignPayload(secret, payload)
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if !VerifySignature(secret, payload, sig) {
		t.Fatalf("signature did not verify")
	}
	if VerifySignature("whsec_other", payload, sig) {
		t.Fatalf("signature verified under wrong secret")
	}
	if VerifySignature(secret, []byte("tampered"), sig) {
		t.Fatalf("signature verified for tampered payload")
	}
	if VerifySignature(secret, payload, "zz"+sig[2:]) {
		t.Fatalf("non-hex signature verified")
	}
}
