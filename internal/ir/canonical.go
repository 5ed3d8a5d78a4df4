package ir

import (
	"encoding/json"
	"fmt"

	cyberphone "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing.
// This is the only serialization used for content-addressed identity.
//
// v is first encoded with encoding/json (so json.Marshaler implementations
// such as Tensor's apply) and then canonicalized: object keys sorted by UTF-16
// code units, numbers in ECMAScript shortest form, no insignificant whitespace.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	out, err := cyberphone.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

// programJSON is the identity-bearing encoding of a program.
type programJSON struct {
	Name    string       `json:"name"`
	Methods []methodJSON `json:"methods"`
}

type methodJSON struct {
	Name    string  `json:"name"`
	Inputs  []Param `json:"inputs"`
	Outputs []Shape `json:"outputs"`
	Body    []any   `json:"body"`
}

func encodeProgram(p *Program) programJSON {
	out := programJSON{Name: p.name, Methods: make([]methodJSON, len(p.methods))}
	for i, m := range p.methods {
		out.Methods[i] = methodJSON{
			Name:    m.Name,
			Inputs:  m.Inputs,
			Outputs: m.Outputs,
			Body:    encodeBody(m.Body),
		}
	}
	return out
}

func encodeBody(body []Stmt) []any {
	out := make([]any, len(body))
	for i, s := range body {
		switch st := s.(type) {
		case Assign:
			out[i] = map[string]any{"set": st.Name, "to": encodeExpr(st.Expr)}
		case If:
			out[i] = map[string]any{"if": encodeExpr(st.Cond), "then": encodeBody(st.Then), "else": encodeBody(st.Else)}
		case While:
			out[i] = map[string]any{"while": encodeExpr(st.Cond), "do": encodeBody(st.Body)}
		case Return:
			vals := make([]any, len(st.Values))
			for j, v := range st.Values {
				vals[j] = encodeExpr(v)
			}
			out[i] = map[string]any{"return": vals}
		}
	}
	return out
}

// encodeExpr encodes constants as strings so NaN and infinities survive.
func encodeExpr(e Expr) any {
	switch ex := e.(type) {
	case Const:
		return map[string]any{"const": FormatFloat(ex.Value), "dtype": string(ex.DType)}
	case Var:
		return map[string]any{"var": ex.Name}
	case Binary:
		return map[string]any{"op": string(ex.Op), "args": []any{encodeExpr(ex.X), encodeExpr(ex.Y)}}
	case Unary:
		return map[string]any{"op": string(ex.Op), "args": []any{encodeExpr(ex.X)}}
	case Cast:
		return map[string]any{"cast": string(ex.DType), "args": []any{encodeExpr(ex.X)}}
	}
	return nil
}
