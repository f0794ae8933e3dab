package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const notificationIcon = "audio-input-microphone"

// urgency is the freedesktop "urgency" hint byte.
type urgency uint8

const (
	urgencyNormal   urgency = 1
	urgencyCritical urgency = 2
)

// desktopNotify sends or replaces a freedesktop notification and returns its server ID.
func desktopNotify(ctx context.Context, appName string, replaceID uint32, summary string, timeoutMS int, level urgency) (uint32, error) {
	out, err := notifications(ctx, "Notify", "susssasa{sv}i",
		appName,
		strconv.FormatUint(uint64(replaceID), 10),
		notificationIcon,
		summary,
		"",
		"0",
		"1", "urgency", "y", strconv.Itoa(int(level)),
		strconv.Itoa(timeoutMS),
	)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", out)
	}

	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}

// desktopDismiss closes a notification by ID.
func desktopDismiss(ctx context.Context, id uint32) error {
	_, err := notifications(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10))
	return err
}

// notifications calls one org.freedesktop.Notifications method on the user bus.
func notifications(ctx context.Context, method string, signature string, args ...string) (string, error) {
	argv := append([]string{
		"--user", "call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		method, signature,
	}, args...)

	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	reply := strings.TrimSpace(string(out))
	if err != nil {
		if reply == "" {
			return "", fmt.Errorf("busctl %s: %w", method, err)
		}
		return "", fmt.Errorf("busctl %s: %w (%s)", method, err, reply)
	}
	return reply, nil
}
