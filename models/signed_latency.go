package models

import (
	"crypto/ecdsa"
	"math"
	"sort"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/segmentio/encoding/json"
)

const maxLatencyIterations = 100

// LatencyData is the result of a latency measurement between the server and a
// client. Latencies are in microseconds.
type LatencyData struct {
	CreatedAt      time.Time `json:"created_at"`
	Min            float32   `json:"min"`
	Max            float32   `json:"max"`
	Mean           float32   `json:"mean"`
	P95            float32   `json:"p95"`
	Last           float32   `json:"last"`
	IterationCount uint32    `json:"iteration_count"`
	PingRequestIDs []uint32  `json:"ping_request_ids"`
	SessionID      string    `json:"session_id"`
	ClientID       string    `json:"client_id"`
	WalletAddress  string    `json:"wallet_address"`
}

// SignedLatencyResult is a latency measurement signed with the server private
// key. The signature covers the Keccak-256 hash of the JSON encoded data.
type SignedLatencyResult struct {
	Data      LatencyData
	Signature string
}

type LatencyMetricsData struct {
	Start time.Time
	End   time.Time
}

// SignedLatency measures the latency of a client by sending it a series of
// ping requests.
type SignedLatency struct {
	RequestID     uint32
	StartedAt     time.Time
	Iteration     uint32
	PingRequests  map[uint32]LatencyMetricsData
	SessionID     string
	ClientID      string
	WalletAddress string

	sendPing   func(pingRequestID uint32)
	privateKey *ecdsa.PrivateKey
	last       float32
}

// Start sends the first ping request.
func (s *SignedLatency) Start(privateKey *ecdsa.PrivateKey, sendPing func(uint32), requestID, iteration uint32, sessionID, clientID, walletAddress string) {
	if iteration == 0 {
		iteration = 1
	}
	if iteration > maxLatencyIterations {
		iteration = maxLatencyIterations
	}

	s.StartedAt = time.Now()
	s.RequestID = requestID
	s.Iteration = iteration
	s.PingRequests = make(map[uint32]LatencyMetricsData, iteration)
	s.SessionID = sessionID
	s.ClientID = clientID
	s.WalletAddress = walletAddress
	s.sendPing = sendPing
	s.privateKey = privateKey

	s.sendPingRequest()
}

// OnPing handles a ping response. It returns a result once all the ping
// requests have been answered.
func (s *SignedLatency) OnPing(pingReqID uint32) (*SignedLatencyResult, error) {
	pingRequest, ok := s.PingRequests[pingReqID]
	if !ok || !pingRequest.End.IsZero() {
		return nil, errors.New("ping request not found").
			WithTag("ping_request_id", pingReqID)
	}

	end := time.Now()
	s.Iteration--
	s.PingRequests[pingReqID] = LatencyMetricsData{
		Start: pingRequest.Start,
		End:   end,
	}
	s.last = float32(end.Sub(pingRequest.Start).Microseconds())

	if s.Iteration > 0 {
		s.sendPingRequest()
		return nil, nil
	}

	data := s.latencyData()
	b, err := json.Marshal(data)
	if err != nil {
		return nil, errors.New("failed to marshal latency data").Wrap(err)
	}

	signature, err := crypto.Sign(crypto.Keccak256Hash(b).Bytes(), s.privateKey)
	if err != nil {
		return nil, errors.New("failed to sign latency data").Wrap(err)
	}

	return &SignedLatencyResult{
		Data:      data,
		Signature: hexutil.Encode(signature),
	}, nil
}

func (s *SignedLatency) latencyData() LatencyData {
	var min, max, mean, p95 float32
	latencies := make([]float32, 0, len(s.PingRequests))
	pingRequestIDs := make([]uint32, 0, len(s.PingRequests))

	for id, v := range s.PingRequests {
		latency := float32(v.End.Sub(v.Start).Microseconds())
		latencies = append(latencies, latency)
		pingRequestIDs = append(pingRequestIDs, id)

		if latency < min || min == 0 {
			min = latency
		}
		if latency > max {
			max = latency
		}
		mean += latency
	}
	mean = float32(math.Round(float64(mean) / float64(len(latencies))))

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})
	sort.Slice(pingRequestIDs, func(i, j int) bool {
		return pingRequestIDs[i] < pingRequestIDs[j]
	})

	index := int(float32(len(latencies)) * 0.95)
	if index < len(latencies) && index > 0 {
		p95 = latencies[index-1]
	} else {
		p95 = latencies[len(latencies)-1]
	}

	return LatencyData{
		CreatedAt:      time.Now().UTC(),
		Min:            min,
		Max:            max,
		Mean:           mean,
		P95:            p95,
		Last:           s.last,
		IterationCount: uint32(len(latencies)),
		PingRequestIDs: pingRequestIDs,
		SessionID:      s.SessionID,
		ClientID:       s.ClientID,
		WalletAddress:  s.WalletAddress,
	}
}

func (s *SignedLatency) sendPingRequest() {
	pingReqID := uint32(time.Now().UnixNano())
	for _, ok := s.PingRequests[pingReqID]; ok || pingReqID == 0; _, ok = s.PingRequests[pingReqID] {
		pingReqID++
	}

	s.PingRequests[pingReqID] = LatencyMetricsData{
		Start: time.Now(),
	}
	s.sendPing(pingReqID)
}
