package cron

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Legacy stores predate the versioned document: jobs carried delivery hints
// inline on the payload. Each migration below is total over its input shape
// and runs once, when a document with version < 1 is loaded.

// migrateDoc upgrades a raw store document to the current schema version.
func migrateDoc(raw []byte) []byte {
	if gjson.GetBytes(raw, "version").Int() >= StoreVersion {
		return raw
	}
	jobs := gjson.GetBytes(raw, "jobs")
	if jobs.IsArray() {
		for i := range jobs.Array() {
			raw = migrateJob(raw, i)
		}
	}
	raw, _ = sjson.SetBytes(raw, "version", StoreVersion)
	return raw
}

func migrateJob(raw []byte, i int) []byte {
	raw = migrateProviderField(raw, i)
	raw = migrateInlineDelivery(raw, i)
	raw = migrateNotifyFlag(raw, i)
	raw = migrateDeleteAfterRunDefault(raw, i)
	return raw
}

// payload.provider -> delivery.channel, case-folded to lowercase.
func migrateProviderField(raw []byte, i int) []byte {
	base := jobPath(i)
	provider := gjson.GetBytes(raw, base+".payload.provider")
	if !provider.Exists() {
		return raw
	}
	if !gjson.GetBytes(raw, base+".delivery.channel").Exists() {
		raw, _ = sjson.SetBytes(raw, base+".delivery.channel", strings.ToLower(provider.String()))
	}
	raw, _ = sjson.DeleteBytes(raw, base+".payload.provider")
	return raw
}

// Legacy {deliver, channel, to, bestEffortDeliver} on the payload becomes a
// top-level delivery object with mode=announce.
func migrateInlineDelivery(raw []byte, i int) []byte {
	base := jobPath(i)
	deliver := gjson.GetBytes(raw, base+".payload.deliver")
	if deliver.Exists() && deliver.Bool() {
		if !gjson.GetBytes(raw, base+".delivery.mode").Exists() {
			raw, _ = sjson.SetBytes(raw, base+".delivery.mode", string(DeliverAnnounce))
		}
		if ch := gjson.GetBytes(raw, base+".payload.channel"); ch.Exists() &&
			!gjson.GetBytes(raw, base+".delivery.channel").Exists() {
			raw, _ = sjson.SetBytes(raw, base+".delivery.channel", ch.String())
		}
		if to := gjson.GetBytes(raw, base+".payload.to"); to.Exists() &&
			!gjson.GetBytes(raw, base+".delivery.to").Exists() {
			raw, _ = sjson.SetBytes(raw, base+".delivery.to", to.String())
		}
		if be := gjson.GetBytes(raw, base+".payload.bestEffortDeliver"); be.Exists() && be.Bool() {
			raw, _ = sjson.SetBytes(raw, base+".delivery.bestEffort", true)
		}
	}
	for _, key := range []string{"deliver", "channel", "to", "bestEffortDeliver"} {
		raw, _ = sjson.DeleteBytes(raw, base+".payload."+key)
	}
	return raw
}

// A bare notify:true flag (pre-delivery-object schema) means "webhook the
// configured endpoint"; the URL itself lives in service config, not the job.
func migrateNotifyFlag(raw []byte, i int) []byte {
	base := jobPath(i)
	notify := gjson.GetBytes(raw, base+".notify")
	if !notify.Exists() {
		return raw
	}
	if notify.Bool() && !gjson.GetBytes(raw, base+".delivery.mode").Exists() {
		raw, _ = sjson.SetBytes(raw, base+".delivery.mode", string(DeliverWebhook))
	}
	raw, _ = sjson.DeleteBytes(raw, base+".notify")
	return raw
}

// One-shot jobs written before deleteAfterRun existed default to true.
func migrateDeleteAfterRunDefault(raw []byte, i int) []byte {
	base := jobPath(i)
	if gjson.GetBytes(raw, base+".schedule.kind").String() != string(ScheduleAt) {
		return raw
	}
	if gjson.GetBytes(raw, base+".deleteAfterRun").Exists() {
		return raw
	}
	raw, _ = sjson.SetBytes(raw, base+".deleteAfterRun", true)
	return raw
}

func jobPath(i int) string {
	return "jobs." + strconv.Itoa(i)
}
