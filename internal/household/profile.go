package household

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// Palette is the set of colors handed out to household members.
var Palette = []string{
	"#F28C28", "#4ECDC4", "#FF6B6B", "#95E1D3",
	"#C792EA", "#82AAFF", "#FFCB6B", "#C3E88D",
}

// LoadProfile returns the cached signed-in user, or nil when nobody is
// signed in.
func LoadProfile(ctx context.Context, kv service.KeyValueStore) (*model.User, error) {
	raw, ok, err := kv.Get(ctx, service.KeyAuthProfile)
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var user model.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to decode auth profile: %w", err)
	}
	return &user, nil
}

// SaveProfile caches the signed-in user.
func SaveProfile(ctx context.Context, kv service.KeyValueStore, user *model.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return kv.Set(ctx, service.KeyAuthProfile, string(raw))
}

// ClearProfile forgets the signed-in user.
func ClearProfile(ctx context.Context, kv service.KeyValueStore) error {
	return kv.Delete(ctx, service.KeyAuthProfile)
}

// UserColor returns the display color of userID, assigning and caching one
// on first use. Assigned colors never change, even if the palette does.
func UserColor(ctx context.Context, kv service.KeyValueStore, userID string) (string, error) {
	colors := make(map[string]string)
	raw, ok, err := kv.Get(ctx, service.KeyUserColors)
	if err != nil {
		return "", err
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &colors); err != nil {
			// A corrupt cache is rebuilt.
			colors = make(map[string]string)
		}
	}
	if color, ok := colors[userID]; ok {
		return color, nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	color := Palette[h.Sum32()%uint32(len(Palette))]
	colors[userID] = color

	encoded, err := json.Marshal(colors)
	if err != nil {
		return "", err
	}
	if err := kv.Set(ctx, service.KeyUserColors, string(encoded)); err != nil {
		return "", err
	}
	return color, nil
}
