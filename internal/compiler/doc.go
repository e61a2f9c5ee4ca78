// Package compiler turns CUE kind declarations into ir.KindSpec values.
//
// Kinds are declared ahead of time in a CUE file embedded in the binary:
//
//	kind: User: {
//		store:      "split"
//		encrypt_to: "self"
//		public: {
//			title: string
//			q0:    string
//		}
//		private: {
//			devices: {[string]: string}
//			groups: [...string]
//			bank: *"" | string
//		}
//	}
//
// Property order in the file is the canonical collection order. Supported
// types are string, int, bool, [...string] (list), {[string]: string} (map)
// and strings tagged @mutual(amount). Floats are rejected. A CUE default
// (*value | type) becomes the property's in-memory default.
package compiler
