package weaviate

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/kilupskalvis/wvb/internal/auth"
	"github.com/kilupskalvis/wvb/internal/models"
	pb "github.com/weaviate/weaviate/grpc/generated/protocol/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Target  string // host:port of the Weaviate gRPC endpoint
	Secured bool
	Headers map[string]string
}

// GRPCClient is the gRPC batch transport. The reply reports failures as
// index-tagged errors, which map one to one onto BatchError.
type GRPCClient struct {
	conn    *grpc.ClientConn
	client  pb.WeaviateClient
	headers map[string]string
	owned   bool
}

// NewGRPCClient dials the Weaviate gRPC endpoint. The connection is owned by
// the returned client and released by Close.
func NewGRPCClient(cfg GRPCConfig) (*GRPCClient, error) {
	creds := insecure.NewCredentials()
	if cfg.Secured {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	conn, err := grpc.NewClient(cfg.Target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to %s: %w", cfg.Target, err)
	}

	c := NewGRPCClientConn(conn, cfg.Headers)
	c.owned = true
	return c, nil
}

// NewGRPCClientConn wraps an existing connection. The caller keeps ownership of conn.
func NewGRPCClientConn(conn *grpc.ClientConn, headers map[string]string) *GRPCClient {
	return &GRPCClient{
		conn:    conn,
		client:  pb.NewWeaviateClient(conn),
		headers: headers,
	}
}

// outgoing attaches static headers and the context's bearer token as gRPC metadata.
func (c *GRPCClient) outgoing(ctx context.Context) context.Context {
	pairs := make([]string, 0, 2*len(c.headers)+2)
	for k, v := range c.headers {
		pairs = append(pairs, k, v)
	}
	if tok, ok := auth.TokenFromContext(ctx); ok {
		pairs = append(pairs, "authorization", "Bearer "+tok)
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// SendObjects sends one BatchObjects request.
func (c *GRPCClient) SendObjects(ctx context.Context, objects []*models.BatchObject) (*BatchReply, error) {
	req := &pb.BatchObjectsRequest{
		Objects: make([]*pb.BatchObject, 0, len(objects)),
	}
	reply := &BatchReply{}

	// Objects that cannot be encoded are failed locally and left out of the
	// request; sent maps request positions back to input indices.
	sent := make([]int, 0, len(objects))
	for i, obj := range objects {
		msg, err := toProtoObject(obj)
		if err != nil {
			reply.Errors = append(reply.Errors, BatchError{Index: i, Message: err.Error()})
			continue
		}
		req.Objects = append(req.Objects, msg)
		sent = append(sent, i)
	}
	if len(req.Objects) == 0 {
		return reply, nil
	}

	resp, err := c.client.BatchObjects(c.outgoing(ctx), req)
	if err != nil {
		return nil, fmt.Errorf("batch objects: %w", err)
	}

	for _, e := range resp.GetErrors() {
		idx := int(e.GetIndex())
		switch {
		case idx >= 0 && idx < len(sent):
			idx = sent[idx]
		case idx >= len(sent):
			// keep it out of range so reconciliation rejects the reply
			idx = len(objects) + idx - len(sent)
		}
		reply.Errors = append(reply.Errors, BatchError{Index: idx, Message: e.GetError()})
	}
	return reply, nil
}

// SendReferences sends one BatchReferences request.
func (c *GRPCClient) SendReferences(ctx context.Context, refs []*models.BatchReference) (*BatchReply, error) {
	req := &pb.BatchReferencesRequest{
		References: make([]*pb.BatchReference, 0, len(refs)),
	}
	for _, ref := range refs {
		msg := &pb.BatchReference{
			Name:           ref.FromProperty,
			FromCollection: ref.FromClass,
			FromUuid:       ref.FromID,
			ToUuid:         ref.ToID,
		}
		if ref.ToClass != "" {
			toClass := ref.ToClass
			msg.ToCollection = &toClass
		}
		msg.Tenant = ref.Tenant
		req.References = append(req.References, msg)
	}

	resp, err := c.client.BatchReferences(c.outgoing(ctx), req)
	if err != nil {
		return nil, fmt.Errorf("batch references: %w", err)
	}

	reply := &BatchReply{}
	for _, e := range resp.GetErrors() {
		reply.Errors = append(reply.Errors, BatchError{Index: int(e.GetIndex()), Message: e.GetError()})
	}
	return reply, nil
}

// Close releases the connection if this client dialed it.
func (c *GRPCClient) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

// toProtoObject converts a batch object to its protobuf message.
func toProtoObject(obj *models.BatchObject) (*pb.BatchObject, error) {
	props, err := toStruct(obj.Properties)
	if err != nil {
		return nil, err
	}

	msg := &pb.BatchObject{
		Uuid:       obj.ID,
		Collection: obj.Class,
		Tenant:     obj.Tenant,
		Properties: &pb.BatchObject_Properties{NonRefProperties: props},
	}

	for name, v := range obj.Vectors {
		if multi := multiVectorToFloat32(v); multi != nil {
			data, err := multiVectorBytes(multi)
			if err != nil {
				return nil, fmt.Errorf("vector %q: %w", name, err)
			}
			msg.Vectors = append(msg.Vectors, &pb.Vectors{
				Name:        name,
				VectorBytes: data,
				Type:        pb.Vectors_VECTOR_TYPE_MULTI_FP32,
			})
			continue
		}
		vec := vectorToFloat32(v)
		if vec == nil {
			return nil, fmt.Errorf("unsupported vector type %T for %q", v, name)
		}
		if name == "" {
			msg.VectorBytes = vectorBytes(vec)
			continue
		}
		msg.Vectors = append(msg.Vectors, &pb.Vectors{
			Name:        name,
			VectorBytes: vectorBytes(vec),
			Type:        pb.Vectors_VECTOR_TYPE_SINGLE_FP32,
		})
	}
	return msg, nil
}

// toStruct normalises properties through JSON so that structpb accepts
// typed slices and nested maps.
func toStruct(props map[string]interface{}) (*structpb.Struct, error) {
	if len(props) == 0 {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	s, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("convert properties: %w", err)
	}
	return s, nil
}

// vectorBytes encodes a vector as little-endian float32.
func vectorBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// multiVectorBytes encodes a multi-vector as a little-endian uint16 inner
// dimension followed by the concatenated float32 rows. Rows must share one
// width that fits the header.
func multiVectorBytes(multi [][]float32) ([]byte, error) {
	dim := 0
	if len(multi) > 0 {
		dim = len(multi[0])
	}
	if dim > math.MaxUint16 {
		return nil, fmt.Errorf("multi-vector dimension %d exceeds %d", dim, math.MaxUint16)
	}
	buf := make([]byte, 2, 2+len(multi)*dim*4)
	binary.LittleEndian.PutUint16(buf, uint16(dim))
	for i, row := range multi {
		if len(row) != dim {
			return nil, fmt.Errorf("multi-vector row %d has dimension %d, want %d", i, len(row), dim)
		}
		buf = append(buf, vectorBytes(row)...)
	}
	return buf, nil
}
