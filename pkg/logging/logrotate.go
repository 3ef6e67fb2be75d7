package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for PHYSICIAN %s
# Install: sudo cp this file to /etc/logrotate.d/physician-%s

%s/%s/*.log {
    daily
    rotate 14
    compress
    delaycompress
    missingok
    notifempty
    create 0644 physician physician
    sharedscripts
    postrotate
        systemctl reload physician-%s 2>/dev/null || true
    endscript
}
`, component, component, DefaultLogDir, component, component)
}
