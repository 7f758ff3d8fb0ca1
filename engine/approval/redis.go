package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	engerrors "github.com/cloudops-io/workflow-core/engine/errors"
)

// RedisStore backs ApprovalStore across a multi-process portal
// deployment, where the single-use + TTL guarantee of spec §8
// invariant 4/5 must hold cluster-wide rather than per-process. Record
// and Consume use Redis itself for the atomic check-and-delete;
// pending continuations are delivered over a Redis Pub/Sub channel
// since the blocking goroutine and the resolver may live in different
// processes.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(toolCallID string) string  { return "approval:record:" + toolCallID }
func pendingKey(toolCallID string) string { return "approval:pending:" + toolCallID }
func resolveChannel(toolCallID string) string { return "approval:resolve:" + toolCallID }

type recordPayload struct {
	ToolName  string    `json:"tool_name"`
	OrgID     string    `json:"org_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *RedisStore) Record(ctx context.Context, toolCallID, toolName, orgID string) error {
	payload, err := json.Marshal(recordPayload{ToolName: toolName, OrgID: orgID, CreatedAt: time.Now()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, recordKey(toolCallID), payload, TTL).Err()
}

// consumeScript atomically checks existence + tool-name match and
// deletes the key, so concurrent Consume calls on the same
// toolCallID see exactly one success (spec §8 invariant 4).
var consumeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then
  return 0
end
local ok = redis.call("DEL", KEYS[1])
return ok
`)

func (s *RedisStore) Consume(ctx context.Context, toolCallID, toolName string) (bool, error) {
	raw, err := s.client.Get(ctx, recordKey(toolCallID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, engerrors.Wrap(engerrors.Database, "approval store unavailable", err)
	}
	var rec recordPayload
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return false, engerrors.Wrap(engerrors.Internal, "corrupt approval record", err)
	}
	if rec.ToolName != toolName {
		return false, nil
	}
	deleted, err := consumeScript.Run(ctx, s.client, []string{recordKey(toolCallID)}).Int()
	if err != nil {
		return false, engerrors.Wrap(engerrors.Database, "approval store unavailable", err)
	}
	return deleted == 1, nil
}

func (s *RedisStore) CreatePending(ctx context.Context, toolCallID, toolName string, args map[string]any, orgID, sessionID string) (<-chan bool, error) {
	p := Pending{ToolCallID: toolCallID, ToolName: toolName, Args: args, OrgID: orgID, SessionID: sessionID, CreatedAt: time.Now()}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, pendingKey(toolCallID), payload, TTL).Err(); err != nil {
		return nil, engerrors.Wrap(engerrors.Database, "approval store unavailable", err)
	}

	sub := s.client.Subscribe(ctx, resolveChannel(toolCallID))
	out := make(chan bool, 1)
	go func() {
		defer sub.Close()
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			close(out)
			return
		}
		out <- msg.Payload == "true"
		close(out)
	}()
	return out, nil
}

func (s *RedisStore) Pending(ctx context.Context, orgID string) ([]Pending, error) {
	keys, err := s.client.Keys(ctx, "approval:pending:*").Result()
	if err != nil {
		return nil, engerrors.Wrap(engerrors.Database, "approval store unavailable", err)
	}
	out := make([]Pending, 0, len(keys))
	for _, k := range keys {
		raw, err := s.client.Get(ctx, k).Result()
		if err != nil {
			continue
		}
		var p Pending
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *RedisStore) Resolve(ctx context.Context, toolCallID string, approved bool, orgID string) error {
	raw, err := s.client.Get(ctx, pendingKey(toolCallID)).Result()
	if err == redis.Nil {
		return engerrors.New(engerrors.NotFound, "no pending approval for "+toolCallID)
	}
	if err != nil {
		return engerrors.Wrap(engerrors.Database, "approval store unavailable", err)
	}
	var p Pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return engerrors.Wrap(engerrors.Internal, "corrupt pending approval", err)
	}
	if p.OrgID != orgID {
		return engerrors.New(engerrors.Forbidden, "approval belongs to a different organization")
	}
	s.client.Del(ctx, pendingKey(toolCallID))
	if approved {
		if err := s.Record(ctx, toolCallID, p.ToolName, orgID); err != nil {
			return err
		}
	}
	payload := "false"
	if approved {
		payload = "true"
	}
	return s.client.Publish(ctx, resolveChannel(toolCallID), payload).Err()
}
