package meshnode

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshnode"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

const defaultMediaType = "application/octet-stream"

// chunkFrame is the payload of one upload transfer envelope. Fields are
// declared in key order so the encoded map is canonical.
type chunkFrame struct {
	Checksum    string `msgpack:"checksum"`
	ChunkIndex  int    `msgpack:"chunk_index"`
	ChunksTotal int    `msgpack:"chunks_total"`
	Data        []byte `msgpack:"data"`
	FileName    string `msgpack:"file_name"`
	MediaType   string `msgpack:"media_type"`
	Size        int64  `msgpack:"size"`
	TransferID  string `msgpack:"transfer_id"`
}

// Checksum returns the BLAKE3 digest of data as "blake3:<hex>".
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// splitChunks cuts data into pieces of at most size bytes.
func splitChunks(data []byte, size int) [][]byte {
	var chunks [][]byte
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// SubmitTransfer decodes and checksums the upload, persists it as
// submitted and sends its chunks in the background.
func (n *Node) SubmitTransfer(ctx context.Context, req meshnode.TransferRequest) (*storepkg.Transfer, error) {
	if err := n.running(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, &envelope.ValidationError{Field: "file_name", Reason: "required field is missing"}
	}
	if req.PayloadBase64 == "" {
		return nil, &envelope.ValidationError{Field: "payload_base64", Reason: "required field is missing"}
	}
	data, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
	if err != nil {
		return nil, &envelope.ValidationError{Field: "payload_base64", Reason: "invalid base64: " + err.Error()}
	}
	if len(data) == 0 {
		return nil, &envelope.ValidationError{Field: "payload_base64", Reason: "decoded payload is empty"}
	}
	if int64(len(data)) > n.config.MaxTransferSize {
		return nil, &envelope.ValidationError{
			Field:  "payload_base64",
			Reason: fmt.Sprintf("decoded size %d exceeds maximum %d bytes", len(data), n.config.MaxTransferSize),
		}
	}
	if err := n.gate.Check(ctx, n.callerIdentity(req.Identity), TransferOperation); err != nil {
		return nil, err
	}

	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = defaultMediaType
	}
	chunks := splitChunks(data, n.config.ChunkSize)

	transfer := &storepkg.Transfer{
		TransferID: envelope.NewMessageID(),
		Status:     storepkg.StatusSubmitted,
		Metadata: storepkg.TransferMetadata{
			SourceIdentity:      n.config.Identity,
			DestinationIdentity: n.config.destinationFor(req.Destination),
			FileName:            req.FileName,
			MediaType:           mediaType,
			Size:                int64(len(data)),
			Checksum:            Checksum(data),
			ChunkSize:           n.config.ChunkSize,
			ChunksTotal:         len(chunks),
		},
		SubmittedAt: n.now().UTC(),
	}
	if err := n.store.CreateTransfer(ctx, transfer); err != nil {
		return nil, err
	}

	n.logger.Info("transfer submitted",
		zap.String("transfer_id", transfer.TransferID),
		zap.String("file_name", req.FileName),
		zap.Int64("size", transfer.Metadata.Size),
		zap.Int("chunks", len(chunks)))
	n.publishTransfer(transfer)

	meta := transfer.Metadata
	if !n.spawn(func(ctx context.Context) { n.runTransfer(ctx, transfer.TransferID, meta, chunks) }) {
		n.logger.Warn("node stopping, transfer left for recovery", zap.String("transfer_id", transfer.TransferID))
	}
	return transfer, nil
}

// runTransfer sends each chunk in order, then checks the daemon's receipt
// for the last one. The first failure fails the whole transfer.
func (n *Node) runTransfer(ctx context.Context, transferID string, meta storepkg.TransferMetadata, chunks [][]byte) {
	logger := n.logger.With(zap.String("transfer_id", transferID))

	var lastMessageID string
	for i, chunk := range chunks {
		payload, err := envelope.EncodePayload(chunkFrame{
			TransferID:  transferID,
			FileName:    meta.FileName,
			MediaType:   meta.MediaType,
			Size:        meta.Size,
			Checksum:    meta.Checksum,
			ChunkIndex:  i,
			ChunksTotal: len(chunks),
			Data:        chunk,
		})
		if err != nil {
			logger.Error("failed to encode transfer chunk", zap.Int("chunk", i), zap.Error(err))
			n.finishTransfer(ctx, transferID, storepkg.StatusFailed, fmt.Sprintf("%s: %v", storepkg.ReasonTransportError, err))
			return
		}

		frame := envelope.NewTransfer(TransferOperation, envelope.DirectionUpload, n.config.Identity, meta.DestinationIdentity, payload)
		correlation := transferID
		frame.CorrelationID = &correlation

		receipt, err := n.bridge.StartTransfer(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			reason := failureReason(err)
			logger.Warn("transfer chunk failed", zap.Int("chunk", i), zap.String("reason", reason), zap.Error(err))
			n.finishTransfer(ctx, transferID, storepkg.StatusFailed, reason)
			return
		}
		lastMessageID = frame.MessageID

		status := storepkg.Status("")
		if i == 0 {
			status = storepkg.StatusDispatched
		}
		sent := i + 1
		updated, err := n.updateTransfer(ctx, transferID, status, func(m *storepkg.TransferMetadata) {
			m.ChunksSent = sent
			if m.FirstMessageID == "" {
				m.FirstMessageID = frame.MessageID
			}
			m.LastMessageID = frame.MessageID
			m.Transport = string(receipt.Transport)
		})
		if err != nil {
			logger.Error("failed to record transfer progress", zap.Int("chunk", i), zap.Error(err))
			return
		}
		n.publishTransfer(updated)
	}

	_, err := n.bridge.QueryReceipt(ctx, lastMessageID)
	switch {
	case err == nil:
		logger.Info("transfer succeeded")
		n.finishTransfer(ctx, transferID, storepkg.StatusSucceeded, "")
	case ctx.Err() != nil:
		return
	case errors.Is(err, meshbridge.ErrReceiptNotFound):
		logger.Warn("no receipt for final transfer chunk", zap.String("message_id", lastMessageID))
		n.finishTransfer(ctx, transferID, storepkg.StatusFailed, storepkg.ReasonNoReceipt)
	default:
		logger.Warn("receipt query failed", zap.Error(err))
		n.finishTransfer(ctx, transferID, storepkg.StatusFailed, failureReason(err))
	}
}

// updateTransfer applies mutate to the stored metadata and persists it.
func (n *Node) updateTransfer(ctx context.Context, transferID string, status storepkg.Status, mutate func(*storepkg.TransferMetadata)) (*storepkg.Transfer, error) {
	n.transferMu.Lock()
	defer n.transferMu.Unlock()

	current, err := n.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	meta := current.Metadata
	mutate(&meta)
	return n.store.UpdateTransferProgress(ctx, transferID, meta, status, n.now())
}

// acknowledgeChunk counts an inbound transfer frame correlated to one of
// our transfers.
func (n *Node) acknowledgeChunk(ctx context.Context, transferID string) {
	updated, err := n.updateTransfer(ctx, transferID, "", func(m *storepkg.TransferMetadata) {
		if m.ChunksAcknowledged < m.ChunksTotal {
			m.ChunksAcknowledged++
		}
	})
	switch {
	case errors.Is(err, storepkg.ErrNotFound):
		return
	case errors.Is(err, storepkg.ErrInvalidTransition):
		n.logger.Debug("acknowledgement for finished transfer", zap.String("transfer_id", transferID))
		return
	case err != nil:
		n.logger.Error("failed to record transfer acknowledgement", zap.String("transfer_id", transferID), zap.Error(err))
		return
	}
	n.publishTransfer(updated)
}

func (n *Node) finishTransfer(ctx context.Context, transferID string, status storepkg.Status, reason string) {
	n.transferMu.Lock()
	t, err := n.store.FinishTransfer(ctx, transferID, status, reason, n.now())
	n.transferMu.Unlock()
	if errors.Is(err, storepkg.ErrInvalidTransition) {
		return
	}
	if err != nil {
		n.logger.Error("failed to finish transfer",
			zap.String("transfer_id", transferID), zap.String("status", string(status)), zap.Error(err))
		return
	}
	n.publishTransfer(t)
}
