package redis

import goredis "github.com/redis/go-redis/v9"

// Times cross into scripts as zero-padded nanosecond strings so that Lua
// string comparison orders them exactly. The zero time is "".

var createTaskScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'doc', ARGV[1], 'phase', ARGV[2], 'woken_at', ARGV[5], 'terminate', ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[3])
if ARGV[2] == 'finished' then
  redis.call('SREM', KEYS[3], ARGV[3])
else
  redis.call('SADD', KEYS[3], ARGV[3])
end
return 1
`)

var updateTaskScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'doc', ARGV[1], 'phase', ARGV[2])
if ARGV[2] == 'finished' then
  redis.call('SREM', KEYS[2], ARGV[3])
else
  redis.call('SADD', KEYS[2], ARGV[3])
end
return 1
`)

// wakeTaskScript returns -1 for a missing task, -2 when termination is
// requested on a finished task, 0 for a finished task and 1 otherwise.
var wakeTaskScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'phase') == 'finished' then
  if ARGV[2] == '1' then return -2 end
  return 0
end
if ARGV[2] == '1' then redis.call('HSET', KEYS[1], 'terminate', '1') end
local cur = redis.call('HGET', KEYS[1], 'woken_at') or ''
if ARGV[1] > cur then redis.call('HSET', KEYS[1], 'woken_at', ARGV[1]) end
return 1
`)

var acquireLockScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') then
  local exp = redis.call('HGET', KEYS[1], 'expires_at') or ''
  if exp == '' or exp > ARGV[1] then return 0 end
end
redis.call('HSET', KEYS[1], 'holder', ARGV[2], 'acquired_at', ARGV[1], 'expires_at', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`)

var releaseLockScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') ~= ARGV[2] then return 0 end
local exp = redis.call('HGET', KEYS[1], 'expires_at') or ''
if exp ~= '' and exp <= ARGV[1] then return 0 end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[3])
return 1
`)

var renewLockScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') ~= ARGV[2] then return 0 end
local exp = redis.call('HGET', KEYS[1], 'expires_at') or ''
if exp ~= '' and exp <= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[3])
return 1
`)

// dropLockScript releases name for holder regardless of expiry and prunes
// stale index entries.
var dropLockScript = goredis.NewScript(`
local h = redis.call('HGET', KEYS[1], 'holder')
if not h then
  redis.call('SREM', KEYS[2], ARGV[2])
  return 0
end
if h ~= ARGV[1] then return 0 end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

var createCallbackScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if ARGV[3] == '1' then
  if redis.call('HSETNX', KEYS[2], ARGV[4], ARGV[2]) == 0 then return 0 end
else
  redis.call('SADD', KEYS[2], ARGV[2])
end
redis.call('HSET', KEYS[1], 'doc', ARGV[1])
return 1
`)

var heartbeatScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'last_seen', ARGV[1])
if redis.call('HGET', KEYS[1], 'state') == 'dead' then
  redis.call('HSET', KEYS[1], 'state', 'active')
end
return 1
`)

var reapServerScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('HGET', KEYS[1], 'state') == 'dead' then return 0 end
local seen = redis.call('HGET', KEYS[1], 'last_seen') or ''
if seen >= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'state', 'dead')
return 1
`)

var acquireLeaderScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'server')
local untilAt = redis.call('HGET', KEYS[1], 'until') or ''
if cur and cur ~= ARGV[1] and untilAt > ARGV[2] then return 0 end
redis.call('HSET', KEYS[1], 'server', ARGV[1], 'until', ARGV[3])
return 1
`)

var renewLeaderScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'server') ~= ARGV[1] then return 0 end
local untilAt = redis.call('HGET', KEYS[1], 'until') or ''
if untilAt <= ARGV[2] then return 0 end
redis.call('HSET', KEYS[1], 'until', ARGV[3])
return 1
`)

var clearLeaderScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'server') == ARGV[1] then redis.call('DEL', KEYS[1]) end
return 1
`)

var registerCronScript = goredis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[2], ARGV[3]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'doc', ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[3])
return 1
`)
