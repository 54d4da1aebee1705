/*
 * Copyright 2026 The Wavelet Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/wavelet-team/wavelet/api/converter"
	"github.com/wavelet-team/wavelet/api/types"
)

const (
	// SyncServiceName is the name of the gRPC service of sessions.
	SyncServiceName = "wavelet.v1.SyncService"

	// ConnectMethod is the full name of the bidirectional stream of a session.
	ConnectMethod = "/" + SyncServiceName + "/Connect"

	// CodecName is the content subtype of frames encoded with the wire
	// format of api/converter. Clients call with
	// grpc.CallContentSubtype(CodecName).
	CodecName = "wavelet"
)

func init() {
	encoding.RegisterCodec(FrameCodec{})
}

// FrameCodec encodes frames for gRPC.
type FrameCodec struct{}

// Marshal encodes a *types.Frame.
func (FrameCodec) Marshal(v interface{}) ([]byte, error) {
	frame, ok := v.(*types.Frame)
	if !ok {
		return nil, fmt.Errorf("marshal %T: %w", v, converter.ErrInvalidBytes)
	}
	return converter.FrameToBytes(frame), nil
}

// Unmarshal decodes into a *types.Frame.
func (FrameCodec) Unmarshal(data []byte, v interface{}) error {
	frame, ok := v.(*types.Frame)
	if !ok {
		return fmt.Errorf("unmarshal into %T: %w", v, converter.ErrInvalidBytes)
	}
	decoded, err := converter.BytesToFrame(data)
	if err != nil {
		return err
	}
	*frame = *decoded
	return nil
}

// Name returns the content subtype of the codec.
func (FrameCodec) Name() string {
	return CodecName
}

// SyncServiceServer is the server API of the sync service.
type SyncServiceServer interface {
	Connect(stream grpc.ServerStream) error
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(SyncServiceServer).Connect(stream)
}

var syncServiceDesc = grpc.ServiceDesc{
	ServiceName: SyncServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Connect",
		Handler:       connectHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "wavelet/v1/sync.proto",
}

// streamTransport carries frames over a gRPC stream.
type streamTransport struct {
	stream grpc.ServerStream

	frames chan *types.Frame
	errs   chan error

	closeOnce sync.Once
	done      chan struct{}
}

// newStreamTransport starts receiving from the stream. Receiving ends when
// the handler returns and the stream is canceled.
func newStreamTransport(stream grpc.ServerStream) *streamTransport {
	t := &streamTransport{
		stream: stream,
		frames: make(chan *types.Frame),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go t.receive()
	return t
}

func (t *streamTransport) receive() {
	for {
		frame := &types.Frame{}
		if err := t.stream.RecvMsg(frame); err != nil {
			t.errs <- err
			return
		}

		select {
		case t.frames <- frame:
		case <-t.done:
			return
		}
	}
}

func (t *streamTransport) Name() string {
	return "grpc"
}

func (t *streamTransport) Read(_ context.Context) (*types.Frame, error) {
	select {
	case frame := <-t.frames:
		return frame, nil
	case err := <-t.errs:
		return nil, err
	case <-t.done:
		return nil, errTransportClosed
	}
}

// Write sends the frame. SendMsg is bounded by flow control of the stream
// rather than by ctx.
func (t *streamTransport) Write(_ context.Context, frame *types.Frame) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	return t.stream.SendMsg(frame)
}

// Close stops delivering frames. The stream itself ends with the status
// the handler returns.
func (t *streamTransport) Close(error) error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return nil
}
