package protocol

import "testing"

func TestValidateRequest_Samples(t *testing.T) {
	valid := []string{
		`{"create_world":{"settings":{"seed":{"shape":[4],"int32s":[1,0,2,1]}}}}`,
		`{"join_world":{"world_name":"world_3","settings":{"max_steps":{"int32s":[50]}}}}`,
		`{"step":{"actions":{"1":{"shape":[1],"int8s":[2]},"2":{"int8s":[0]}}}}`,
		`{"step":{}}`,
		`{"reset":{}}`,
		`{"reset_world":{"world_name":"world_3"}}`,
		`{"leave_world":{}}`,
		`{"destroy_world":{"world_name":"world_3"}}`,
		`{"extension":{"anything":true}}`,
	}
	for _, raw := range valid {
		if err := ValidateRequest([]byte(raw)); err != nil {
			t.Fatalf("expected valid %s: %v", raw, err)
		}
	}
}

func TestValidateRequest_Rejects(t *testing.T) {
	invalid := []string{
		`[]`,
		`{"join_world":{}}`,
		`{"join_world":{"world_name":7}}`,
		`{"step":{"actions":{"paddle":{"int8s":[1]}}}}`,
		`{"step":{"actions":{"1":{"int8s":[300]}}}}`,
		`{"create_world":{"settings":{"seed":{"strings":["x"]}}}}`,
		`{"leave_world":{"world_name":"world_0"}}`,
	}
	for _, raw := range invalid {
		if err := ValidateRequest([]byte(raw)); err == nil {
			t.Fatalf("expected invalid: %s", raw)
		}
	}
}
