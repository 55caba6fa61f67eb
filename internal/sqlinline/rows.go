package sqlinline

const QSelectModelRow = `--sql e4154d51-e27c-4978-b21f-5c2d26658eec
select id::text, model_id::text, status, created_at, updated_at
from model_rows
where id = $1::uuid;
`

const QSelectVariantRow = `--sql 24176803-a48e-4018-9cc6-8cd546ec2c7a
select id::text, model_id::text, status, created_at, updated_at
from variant_rows
where id = $1::uuid;
`

const QUpdateModelRowStatus = `--sql 2b356160-26e6-4fb3-b347-20ea86e1e00a
update model_rows
set status = $2::text, updated_at = now()
where id = $1::uuid;
`

const QUpdateVariantRowStatus = `--sql c0cab075-33bc-4913-b816-17552b1fd0eb
update variant_rows
set status = $2::text, updated_at = now()
where id = $1::uuid;
`

const QSelectModel = `--sql c17ca559-6caf-468e-8ac1-e69776033e41
select id::text, coalesce(team_id::text, ''), output_width, output_height,
       coalesce(default_prompt, ''), provider_model
from models
where id = $1::uuid;
`
