package redis

import "github.com/redis/go-redis/v9"

// Times are passed in from the caller's clock as ARGV rather than read from
// the server, so every expiry decision uses the same clock as the rest of the
// process.
const (
	// createSessionScript inserts a session unless a live one holds the id
	createSessionScript = `
local session_key = KEYS[1]     -- {prefix}:session:{id}
local usage_key = KEYS[2]       -- {prefix}:usage:{id}
local expiry_index = KEYS[3]    -- {prefix}:sessions:expiry

local id = ARGV[1]
local created_at = ARGV[2]
local created_ms = ARGV[3]
local expires_at = ARGV[4]
local expires_ms = ARGV[5]
local client_address = ARGV[6]
local client_agent = ARGV[7]
local ttl_ms = tonumber(ARGV[8])

local existing = redis.call('HGET', session_key, 'expires_at_ms')
if existing and tonumber(existing) >= tonumber(created_ms) then
  return 0
end

-- Replace any expired leftover along with its usage record
redis.call('DEL', session_key, usage_key)

redis.call('HSET', session_key,
  'id', id,
  'created_at', created_at,
  'last_activity_at', created_at,
  'last_activity_ms', created_ms,
  'expires_at', expires_at,
  'expires_at_ms', expires_ms,
  'client_address', client_address,
  'client_agent', client_agent
)

if ttl_ms > 0 then
  redis.call('PEXPIRE', session_key, ttl_ms)
end

redis.call('ZADD', expiry_index, expires_ms, id)

return 1
`

	// touchSessionScript validates a session and bumps its last activity.
	// Returns {status, field, value, ...} where status is ok, missing or expired.
	touchSessionScript = `
local session_key = KEYS[1]     -- {prefix}:session:{id}
local usage_key = KEYS[2]       -- {prefix}:usage:{id}
local expiry_index = KEYS[3]    -- {prefix}:sessions:expiry

local id = ARGV[1]
local now_ms = tonumber(ARGV[2])
local now = ARGV[3]

local expires_ms = redis.call('HGET', session_key, 'expires_at_ms')
if not expires_ms then
  return {'missing'}
end

if now_ms > tonumber(expires_ms) then
  redis.call('DEL', session_key, usage_key)
  redis.call('ZREM', expiry_index, id)
  return {'expired'}
end

local last_ms = tonumber(redis.call('HGET', session_key, 'last_activity_ms') or '0')
if now_ms > last_ms then
  redis.call('HSET', session_key,
    'last_activity_at', now,
    'last_activity_ms', ARGV[2]
  )
end

local reply = redis.call('HGETALL', session_key)
table.insert(reply, 1, 'ok')
return reply
`

	// sweepSessionScript removes one session and its usage if its indexed
	// expiry is still before now. Returns 1 when the session key was removed.
	sweepSessionScript = `
local session_key = KEYS[1]     -- {prefix}:session:{id}
local usage_key = KEYS[2]       -- {prefix}:usage:{id}
local expiry_index = KEYS[3]    -- {prefix}:sessions:expiry

local id = ARGV[1]
local now_ms = tonumber(ARGV[2])

local score = redis.call('ZSCORE', expiry_index, id)
if score and tonumber(score) >= now_ms then
  return 0
end

local removed = redis.call('DEL', session_key)
redis.call('DEL', usage_key)
redis.call('ZREM', expiry_index, id)
return removed
`

	// checkAndResetUsageScript creates or resets the usage record of a live session
	checkAndResetUsageScript = `
local session_key = KEYS[1]     -- {prefix}:session:{id}
local usage_key = KEYS[2]       -- {prefix}:usage:{id}

local id = ARGV[1]
local day = ARGV[2]

if redis.call('EXISTS', session_key) == 0 then
  return false
end

local date = redis.call('HGET', usage_key, 'last_reset_date')
if not date then
  redis.call('HSET', usage_key,
    'session_id', id,
    'seconds_used_today', '0',
    'last_reset_date', day
  )
  -- Usage lives exactly as long as its session
  local ttl = redis.call('PTTL', session_key)
  if ttl > 0 then
    redis.call('PEXPIRE', usage_key, ttl)
  end
elseif date ~= day then
  redis.call('HSET', usage_key,
    'seconds_used_today', '0',
    'last_reset_date', day
  )
end

return redis.call('HGETALL', usage_key)
`

	// addUsageScript increments daily usage clamped to the limit
	addUsageScript = `
local usage_key = KEYS[1]       -- {prefix}:usage:{id}

local day = ARGV[1]
local seconds = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local date = redis.call('HGET', usage_key, 'last_reset_date')
if not date then
  return false
end

local used = tonumber(redis.call('HGET', usage_key, 'seconds_used_today') or '0')
if date ~= day then
  used = 0
end

local next_used = used + seconds
if next_used > limit then
  next_used = limit
end
if next_used < used then
  next_used = used
end

redis.call('HSET', usage_key,
  'seconds_used_today', tostring(next_used),
  'last_reset_date', day
)

return redis.call('HGETALL', usage_key)
`

	// rateHitScript counts a request in a fixed window anchored at its first hit.
	// Returns {count, window_start_ms}.
	rateHitScript = `
local rate_key = KEYS[1]        -- {prefix}:rate:{address}

local now_ms = ARGV[1]
local window_ms = tonumber(ARGV[2])

local start = redis.call('HGET', rate_key, 'start_ms')
if (not start) or tonumber(now_ms) >= tonumber(start) + window_ms then
  redis.call('HSET', rate_key, 'count', '0', 'start_ms', now_ms)
  redis.call('PEXPIRE', rate_key, window_ms)
  start = now_ms
end

local count = redis.call('HINCRBY', rate_key, 'count', 1)

return {count, start}
`
)

var (
	createSession      = redis.NewScript(createSessionScript)
	touchSession       = redis.NewScript(touchSessionScript)
	sweepSession       = redis.NewScript(sweepSessionScript)
	checkAndResetUsage = redis.NewScript(checkAndResetUsageScript)
	addUsage           = redis.NewScript(addUsageScript)
	rateHit            = redis.NewScript(rateHitScript)
)
