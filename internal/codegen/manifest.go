package codegen

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/dto"
	"github.com/roach88/fwrpc/internal/params"
)

// ManifestFile is the file name of the API manifest.
const ManifestFile = "api.json"

// manifestDomain separates manifest hashes from any other hashed content.
const manifestDomain = "fwrpc/manifest/v1"

// Manifest renders the registry as canonical JSON.
func Manifest(reg *api.Registry) ([]byte, error) {
	out, err := marshalCanonical(manifestObject(reg))
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// ManifestHash is the hex SHA-256 of the canonical manifest, prefixed by a
// domain separator.
func ManifestHash(manifest []byte) string {
	h := sha256.New()
	h.Write([]byte(manifestDomain))
	h.Write([]byte{0x00})
	h.Write(manifest)
	return hex.EncodeToString(h.Sum(nil))
}

func manifestObject(reg *api.Registry) map[string]any {
	endpoints := make([]any, 0, len(reg.Endpoints))
	for _, ep := range reg.Endpoints {
		e := map[string]any{
			"id":            int(ep.ID),
			"name":          ep.Name,
			"function":      ep.FullName,
			"shape":         ep.Shape.String(),
			"signature":     ep.Signature,
			"returns_error": ep.ReturnsError,
			"reserved":      ep.Reserved,
		}
		if ep.Request != nil {
			e["request"] = ep.Request.QualifiedName()
		}
		if ep.Response != nil {
			e["response"] = ep.Response.QualifiedName()
		}
		endpoints = append(endpoints, e)
	}

	events := make([]any, 0, len(reg.Events))
	for _, ev := range reg.Events {
		e := map[string]any{
			"index":      int(ev.Index),
			"name":       ev.Name,
			"function":   ev.FullName,
			"signature":  ev.Signature,
			"responders": anySlice(ev.Responders),
		}
		if ev.Request != nil {
			e["payload"] = ev.Request.QualifiedName()
		}
		events = append(events, e)
	}

	responders := make([]any, 0, len(reg.Responders))
	for _, r := range reg.Responders {
		responders = append(responders, map[string]any{
			"name":      r.Name,
			"function":  r.FullName,
			"event":     r.Event,
			"signature": r.Signature,
		})
	}

	sinks := make([]any, 0, len(reg.Sinks))
	for _, s := range reg.Sinks {
		sinks = append(sinks, map[string]any{
			"name":      s.Name,
			"function":  s.FullName,
			"buffer":    s.Buffer,
			"length":    s.Length,
			"signature": s.Signature,
		})
	}

	messages := make([]any, 0)
	for _, m := range reg.DTOs().DomainMessages(reg.Domain) {
		messages = append(messages, messageObject(m))
	}

	return map[string]any{
		"domain":            reg.Domain,
		"catalogue_version": params.CatalogueVersion,
		"hashes": map[string]any{
			"core":     reg.Compat.Core,
			"reserved": reg.Compat.Reserved,
			"api":      reg.Compat.API,
		},
		"reserved":      anySlice(reg.Reserved),
		"core_reserved": reg.CoreCount,
		"endpoints":     endpoints,
		"events":        events,
		"responders":    responders,
		"sinks":         sinks,
		"messages":      messages,
	}
}

func messageObject(m *dto.Message) map[string]any {
	fields := make([]any, 0, len(m.Fields))
	for _, f := range m.Fields {
		fields = append(fields, map[string]any{
			"name":   f.Name,
			"number": f.Number,
			"type":   f.Type,
		})
	}
	obj := map[string]any{
		"name":    m.Name,
		"variant": m.Variant.String(),
		"fields":  fields,
	}
	if m.VariableLength {
		obj["max_size"] = "variable"
	} else {
		obj["max_size"] = m.MaxSize
	}
	return obj
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
