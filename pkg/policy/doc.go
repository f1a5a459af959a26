// Package policy defines the authorization policy model shared by the
// decision point, the policy cache and the cache processor.
//
// A descriptor (an enforcement point registered with the PDP) owns an
// ordered list of policies. Each policy carries a target (the resources
// and actions it applies to) and an ordered list of rules. A rule has an
// effect, an optional condition expression (see package expr) and an
// optional target that overrides the policy target.
//
// # Policy Documents
//
// Policies are exchanged as YAML (or JSON) documents, one policy set per
// descriptor:
//
//	descriptor_id: "https://spep.example.edu/spep"
//	policies:
//	  - id: "urn:policy:library"
//	    description: "Library resources"
//	    target:
//	      resources: ["/library/.*"]
//	      actions: ["GET"]
//	    rules:
//	      - id: "deny-guests"
//	        effect: DENY
//	        condition:
//	          function: string-equal
//	          attributes: ["type"]
//	          values: ["guest"]
//	      - id: "permit-all"
//	        effect: PERMIT
//
// Documents are parsed with ParsePolicySet and validated with
// PolicySet.Validate.
package policy
